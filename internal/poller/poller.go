// Package poller runs fixed-interval background jobs on a cron scheduler.
// Every job is removed when the poller stops.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Poller owns a cron scheduler and the jobs registered on it.
type Poller struct {
	cron *cron.Cron

	mu      sync.Mutex
	jobs    map[string]cron.EntryID
	started bool
}

// New creates a stopped poller. Overlapping runs of the same job are
// skipped.
func New() *Poller {
	logger := zapLogger{zap.L().Named("poller")}
	return &Poller{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		jobs: make(map[string]cron.EntryID),
	}
}

// Every schedules fn under name at a fixed interval, replacing any job of
// the same name. Intervals below a second are rounded up to one second.
func (p *Poller) Every(name string, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return eris.Errorf("poller: invalid interval %s for %s", interval, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.jobs[name]; ok {
		p.cron.Remove(id)
	}
	id := p.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		fn(ctx)
	}))
	p.jobs[name] = id
	return nil
}

// Remove unschedules the named job.
func (p *Poller) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.jobs[name]; ok {
		p.cron.Remove(id)
		delete(p.jobs, name)
	}
}

// Jobs returns the names of scheduled jobs.
func (p *Poller) Jobs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.jobs))
	for name := range p.jobs {
		out = append(out, name)
	}
	return out
}

// Start begins running jobs.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		p.cron.Start()
		p.started = true
	}
}

// Stop removes every job and waits for running ones to finish or ctx to
// expire.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	for name, id := range p.jobs {
		p.cron.Remove(id)
		delete(p.jobs, name)
	}
	started := p.started
	p.started = false
	p.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-p.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "poller: stop")
	}
}

// zapLogger adapts zap to cron.Logger.
type zapLogger struct {
	l *zap.Logger
}

func (z zapLogger) Info(msg string, keysAndValues ...any) {
	z.l.Debug(msg, zap.Any("fields", keysAndValues))
}

func (z zapLogger) Error(err error, msg string, keysAndValues ...any) {
	z.l.Error(msg, zap.Error(err), zap.Any("fields", keysAndValues))
}
