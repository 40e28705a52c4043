package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-scrape-storefronts/models"
)

// ErrPoolClosed is returned when Submit is called after Close.
var ErrPoolClosed = errors.New("pool: closed")

// Pool runs site sessions on a fixed set of workers. Each session is
// sequential; only distinct sites run concurrently.
type Pool struct {
	ctx    context.Context
	runner *Runner
	jobs   chan *models.Site
	logger *slog.Logger

	wg sync.WaitGroup

	mu      sync.Mutex // guards closed and reports
	closed  bool
	reports []*models.SessionReport

	closeOnce sync.Once
}

// NewPool starts workers that run sessions until Close or ctx is done.
func NewPool(ctx context.Context, r *Runner, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		ctx:    ctx,
		runner: r,
		jobs:   make(chan *models.Site, workers),
		logger: r.logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues a site. It blocks while every worker is busy and the queue
// is full.
func (p *Pool) Submit(site *models.Site) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPoolClosed
		}
	}()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}

	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobs <- site:
		return nil
	}
}

// Close stops accepting sites, waits for in-flight sessions and returns
// their reports in completion order.
func (p *Pool) Close() []*models.SessionReport {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.SessionReport(nil), p.reports...)
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for site := range p.jobs {
		if p.ctx.Err() != nil {
			continue
		}
		report, err := p.runner.RunSite(p.ctx, site)
		if err != nil && p.ctx.Err() == nil {
			p.logger.Error("session aborted", slog.String("site", site.Name), slog.Any("error", err))
		}
		if report == nil {
			continue
		}
		p.mu.Lock()
		p.reports = append(p.reports, report)
		p.mu.Unlock()
	}
}
