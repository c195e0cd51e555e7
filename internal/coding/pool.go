package coding

// Runner executes (de)compression work that would otherwise stall the
// connection goroutine on a large payload. Submissions carry their own
// completion plumbing (each offloaded stream owns a pipe), so no ordering
// is assumed across jobs.
type Runner interface {
	Submit(f func())
}

// Inline runs each submission on the goroutine that carries it, with no
// workers and no backlog. Tests use it to take pool scheduling out of
// the picture.
type Inline struct{}

func (Inline) Submit(f func()) { f() }

// Pool is a fixed set of workers fed by a ticketed submission channel.
// Submit blocks once the backlog is full, which bounds the decompression
// work in flight the same way the connection buffers bound socket I/O.
type Pool struct {
	jobs chan func()
	done chan struct{}
}

func NewPool(workers, backlog int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		jobs: make(chan func(), backlog),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	for {
		select {
		case f := <-p.jobs:
			f()
		case <-p.done:
			return
		}
	}
}

func (p *Pool) Submit(f func()) {
	select {
	case p.jobs <- f:
	case <-p.done:
	}
}

func (p *Pool) Close() { close(p.done) }
