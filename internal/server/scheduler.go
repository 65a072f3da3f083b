package server

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/tagweave/tagweave/internal/agent"
	"github.com/tagweave/tagweave/internal/store"
)

// Scheduler fires recurring generations. Every tick it walks the stored
// schedules and runs the due ones through the same Runner the API uses.
type Scheduler struct {
	Store    *store.Store
	Runner   Runner
	Rdb      *redis.Client
	Logger   *log.Logger
	Interval time.Duration

	stop chan struct{}
}

func NewScheduler(st *store.Store, runner Runner, rdb *redis.Client) *Scheduler {
	return &Scheduler{
		Store:    st,
		Runner:   runner,
		Rdb:      rdb,
		Logger:   log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
		Interval: time.Minute,
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.Interval)
	go func() {
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick(context.Background())
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	schedules, err := s.Store.ListSchedules(ctx)
	if err != nil {
		s.Logger.Printf("listing schedules: %v", err)
		return
	}
	now := time.Now()
	for _, sched := range schedules {
		if !sched.Enabled || !isDue(sched.Cron, sched.LastRunAt, now) {
			continue
		}
		// distributed lock to avoid duplicate runs; the TTL covers the
		// window until LastRunAt is stamped and visible to peers
		if s.Rdb != nil {
			lockKey := "sched:lock:" + sched.ID
			ok, err := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if err != nil || !ok {
				continue
			}
		}
		s.fire(ctx, sched)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched store.ScheduleRecord) {
	runID := uuid.New().String()
	if err := s.Store.CreateRun(ctx, runID, sched.Input); err != nil {
		s.Logger.Printf("schedule %s: creating run: %v", sched.ID, err)
		return
	}
	if err := s.Store.MarkScheduleRun(ctx, sched.ID, time.Now()); err != nil {
		s.Logger.Printf("schedule %s: stamping run time: %v", sched.ID, err)
	}
	go func() {
		// jitter to avoid stampedes
		time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)
		input, err := decodeRunInput(sched.Input)
		if err != nil {
			recordOutcome(s.Store, s.Logger, runID, agent.Result{}, err, 0)
			return
		}
		started := time.Now()
		res, err := s.Runner.Run(context.Background(), input, agent.WithRunID(runID))
		recordOutcome(s.Store, s.Logger, runID, res, err, time.Since(started))
		if err != nil {
			s.Logger.Printf("schedule %s run %s: %v", sched.ID, runID, err)
		}
	}()
}

// isDue reports whether a schedule with cronSpec should run, given when it
// last ran. Supports "@daily", "@hourly", and cron expressions; an invalid
// expression falls back to @daily.
func isDue(cronSpec string, last *time.Time, now time.Time) bool {
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
