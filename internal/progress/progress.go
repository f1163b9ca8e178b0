package progress

import "sync"

type Snapshot struct {
	NumberOfTasks   int  `json:"number_of_tasks" yaml:"number_of_tasks"`
	NumberRemaining int  `json:"number_remaining" yaml:"number_remaining"`
	NumberCompleted int  `json:"number_completed" yaml:"number_completed"`
	IsComplete      bool `json:"is_complete" yaml:"is_complete"`
}

// Func is called with the new counters after every change.
type Func func(Snapshot)

// DownloadProgress counts refresh tasks so observers can show a progress bar.
type DownloadProgress struct {
	mu        sync.Mutex
	total     int
	remaining int
	observers []Func
}

func New() *DownloadProgress {
	return &DownloadProgress{}
}

func (p *DownloadProgress) Observe(fn Func) {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

func (p *DownloadProgress) AddTasks(n int) {
	if n <= 0 {
		return
	}
	p.update(func() {
		p.total += n
		p.remaining += n
	})
}

func (p *DownloadProgress) CompleteTask() {
	p.CompleteTasks(1)
}

func (p *DownloadProgress) CompleteTasks(n int) {
	if n <= 0 {
		return
	}
	p.update(func() {
		p.remaining -= n
		if p.remaining < 0 {
			p.remaining = 0
		}
		if p.remaining == 0 {
			p.total = 0
		}
	})
}

func (p *DownloadProgress) Reset() {
	p.update(func() {
		p.total = 0
		p.remaining = 0
	})
}

func (p *DownloadProgress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *DownloadProgress) IsComplete() bool {
	return p.Snapshot().IsComplete
}

func (p *DownloadProgress) snapshotLocked() Snapshot {
	return Snapshot{
		NumberOfTasks:   p.total,
		NumberRemaining: p.remaining,
		NumberCompleted: p.total - p.remaining,
		IsComplete:      p.remaining == 0,
	}
}

func (p *DownloadProgress) update(fn func()) {
	p.mu.Lock()
	before := p.snapshotLocked()
	fn()
	after := p.snapshotLocked()
	observers := append([]Func(nil), p.observers...)
	p.mu.Unlock()

	if before == after {
		return
	}
	for _, o := range observers {
		o(after)
	}
}

// Combine sums the counters of several trackers.
func Combine(trackers ...*DownloadProgress) Snapshot {
	var out Snapshot
	for _, t := range trackers {
		s := t.Snapshot()
		out.NumberOfTasks += s.NumberOfTasks
		out.NumberRemaining += s.NumberRemaining
		out.NumberCompleted += s.NumberCompleted
	}
	out.IsComplete = out.NumberRemaining == 0
	return out
}
