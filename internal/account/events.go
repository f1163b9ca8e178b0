package account

import (
	"sort"

	"github.com/tengjizhang/feedsync/internal/model"
)

type Event interface {
	isEvent()
}

// ChildrenChanged reports membership changes in a container. Folder is empty
// for the account level.
type ChildrenChanged struct {
	AccountID string
	Folder    string
}

// BatchUpdated closes one Update that changed something.
type BatchUpdated struct {
	AccountID string
	Changes   int
}

// StatusesChanged reports articles whose read or starred flag changed; unread
// counts derive from it.
type StatusesChanged struct {
	AccountID  string
	Key        model.StatusKey
	Flag       bool
	ArticleIDs []string
}

func (ChildrenChanged) isEvent() {}
func (BatchUpdated) isEvent()    {}
func (StatusesChanged) isEvent() {}

// Subscribe registers fn for every event of this account. The returned func
// removes the registration.
func (a *Account) Subscribe(fn func(Event)) func() {
	a.subsMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.subsMu.Unlock()

	return func() {
		a.subsMu.Lock()
		delete(a.subs, id)
		a.subsMu.Unlock()
	}
}

func (a *Account) PublishStatuses(key model.StatusKey, flag bool, articleIDs []string) {
	if len(articleIDs) == 0 {
		return
	}
	ids := append([]string(nil), articleIDs...)
	sort.Strings(ids)
	a.deliver([]Event{StatusesChanged{AccountID: a.ID, Key: key, Flag: flag, ArticleIDs: ids}})
}

func (a *Account) deliver(events []Event) {
	if len(events) == 0 {
		return
	}
	a.subsMu.Lock()
	ids := make([]int, 0, len(a.subs))
	for id := range a.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, a.subs[id])
	}
	a.subsMu.Unlock()

	for _, ev := range events {
		for _, h := range handlers {
			h(ev)
		}
	}
}
