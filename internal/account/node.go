package account

// Node is one entry of the account tree: a Snapshot, a FolderSnapshot or a
// Feed. The set is closed; switch on the concrete type.
type Node interface {
	Title() string
	isNode()
}

func (Snapshot) isNode()       {}
func (FolderSnapshot) isNode() {}
func (Feed) isNode()           {}

func (s Snapshot) Title() string {
	return s.Name
}

func (f FolderSnapshot) Title() string {
	return f.Name
}

func (f Feed) Title() string {
	return f.DisplayName()
}

// Children lists folders before top-level feeds for an account, and feeds for
// a folder.
func Children(n Node) []Node {
	switch v := n.(type) {
	case Snapshot:
		out := make([]Node, 0, len(v.Folders)+len(v.Feeds))
		for _, f := range v.Folders {
			out = append(out, f)
		}
		for _, f := range v.Feeds {
			out = append(out, f)
		}
		return out
	case FolderSnapshot:
		out := make([]Node, 0, len(v.Feeds))
		for _, f := range v.Feeds {
			out = append(out, f)
		}
		return out
	case Feed:
		return nil
	default:
		panic("account: unknown node type")
	}
}

// Walk visits n and its descendants depth-first.
func Walk(n Node, fn func(n Node, depth int)) {
	var walk func(Node, int)
	walk = func(n Node, depth int) {
		fn(n, depth)
		for _, c := range Children(n) {
			walk(c, depth+1)
		}
	}
	walk(n, 0)
}
