package worker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type task func()

// Pool runs post-commit side work (event publishing, link bookkeeping) off
// the request path.
type Pool struct {
	wg    sync.WaitGroup
	jobs  chan task
	depth prometheus.Gauge
}

// NewPool starts n workers. depth may be nil.
func NewPool(n int, depth prometheus.Gauge) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{jobs: make(chan task, 1024), depth: depth}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.track(-1)
				job()
			}
		}()
	}
	return p
}

func (p *Pool) Submit(f func()) {
	p.track(1)
	p.jobs <- f
}

// Stop drains queued jobs and waits for the workers to exit.
func (p *Pool) Stop() { close(p.jobs); p.wg.Wait() }

func (p *Pool) track(d float64) {
	if p.depth != nil {
		p.depth.Add(d)
	}
}
