// Package jobs runs periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hearingcal/internal/ics"
	appLog "hearingcal/internal/log"
)

// Task is one unit of maintenance work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs every task on each tick of a cron schedule. Ticks that
// arrive while the previous run is still going are skipped.
type Scheduler struct {
	spec  string
	cron  *cron.Cron
	tasks []Task

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates spec (standard five-field cron syntax) and builds a
// stopped Scheduler.
func New(spec string, loc *time.Location, tasks ...Task) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("jobs: invalid schedule %q: %w", spec, err)
	}
	logger := cronLogger{}
	s := &Scheduler{
		spec: spec,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		tasks: tasks,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("jobs: schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins ticking. Task contexts derive from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	appLog.Info("maintenance scheduler started", "schedule", s.spec, "tasks", len(s.tasks))
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	appLog.Info("maintenance scheduler stopped")
}

// RunOnce runs every task in order and joins their errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, t := range s.tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := t.Run(ctx); err != nil {
			appLog.Error("maintenance task failed", err, "task", t.Name)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		appLog.Debug("maintenance task done", "task", t.Name, "took", time.Since(start).String())
	}
	return errors.Join(errs...)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_ = s.RunOnce(ctx)
}

// Purger drops expired cache entries and reports how many were removed.
type Purger interface {
	Purge() int
}

// PurgeTravelCache evicts expired travel estimates.
func PurgeTravelCache(p Purger) Task {
	return Task{
		Name: "purge-travel-cache",
		Run: func(context.Context) error {
			if n := p.Purge(); n > 0 {
				appLog.Info("travel cache purged", "removed", n)
			}
			return nil
		},
	}
}

// Feeds is the part of the feed source the prefetch task needs.
type Feeds interface {
	Feeds() []ics.Feed
	Invalidate()
}

// PrefetchFeeds refreshes the on-disk feed cache and then drops parsed
// copies so the next calendar read sees the new bodies. It fails only when
// every feed failed.
func PrefetchFeeds(f *ics.Fetcher, feeds Feeds) Task {
	return Task{
		Name: "prefetch-feeds",
		Run: func(ctx context.Context) error {
			all := feeds.Feeds()
			if len(all) == 0 {
				return nil
			}
			ok, errs := f.Prefetch(ctx, all)
			feeds.Invalidate()
			appLog.Info("feeds prefetched", "ok", ok, "failed", len(errs))
			if ok == 0 {
				return errors.Join(errs...)
			}
			return nil
		},
	}
}

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
