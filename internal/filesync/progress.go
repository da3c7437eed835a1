package filesync

import "sync"

// Progress is one notification emitted during a pass.
type Progress struct {
	Status    string
	Detail    string
	Expected  int
	Completed int
}

// ProgressFunc receives progress notifications. It is never called
// concurrently with itself and Completed never decreases within a pass.
type ProgressFunc func(Progress)

// CompletionFunc receives the result of an asynchronous pass.
type CompletionFunc func(ok bool, errs []error)

// Status texts.
const (
	StatusTextPreparing = "Preparing"
	StatusTextListing   = "Fetching remote file list"
	StatusTextComparing = "Comparing files"
	StatusTextSyncing   = "Syncing files"
	StatusTextSaving    = "Saving"
	StatusTextDone      = "Done"
)

// reporter serializes progress notifications onto a single dispatcher
// goroutine. The counter increment and the enqueue happen under one lock
// so notifications leave in counter order.
type reporter struct {
	mu        sync.Mutex
	fn        ProgressFunc
	ch        chan Progress
	done      chan struct{}
	expected  int
	completed int
	closed    bool
}

func newReporter(fn ProgressFunc, buffer int) *reporter {
	r := &reporter{fn: fn}
	if fn == nil {
		return r
	}

	r.ch = make(chan Progress, buffer)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		for p := range r.ch {
			r.fn(p)
		}
	}()

	return r
}

func (r *reporter) status(status, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.send(Progress{Status: status, Detail: detail, Expected: r.expected, Completed: r.completed})
}

func (r *reporter) expect(n int) {
	r.mu.Lock()
	r.expected = n
	r.mu.Unlock()
}

// step records one completed operation.
func (r *reporter) step(detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.completed++
	r.send(Progress{Status: StatusTextSyncing, Detail: detail, Expected: r.expected, Completed: r.completed})
}

func (r *reporter) counts() (expected, completed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.expected, r.completed
}

// send must be called with mu held.
func (r *reporter) send(p Progress) {
	if r.ch == nil || r.closed {
		return
	}

	r.ch <- p
}

// close flushes pending notifications and stops the dispatcher.
func (r *reporter) close() {
	r.mu.Lock()
	if r.ch == nil || r.closed {
		r.mu.Unlock()
		return
	}

	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	<-r.done
}
