// Package schedule fires the periodic jobs (monitoring runs, reputation
// sweeps, cleanup) from the persisted task registry. Every fire takes a
// named store lease so deployments sharing one database never double-run a
// task, and a reconcile loop re-reads the registry so interval edits take
// effect without a restart.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ojulabs/oju/internal/config"
	"github.com/ojulabs/oju/internal/store"
)

// Task names in the schedule registry.
const (
	TaskMonitor = "monitor"
	TaskVTScan  = "vt_scan"
	TaskCleanup = "cleanup"
)

const (
	// leaseTTL caps how long one fire can block the next. A run that
	// outlives its lease may overlap the next fire; platform writes are
	// idempotent against the alert invariants, so overlap is tolerated.
	leaseTTL = 6 * time.Hour

	// reconcileEvery is how often the registry is re-read.
	reconcileEvery = time.Minute

	cleanupInterval = 24 * time.Hour

	// emailLogRetention is how long delivery records are kept before the
	// cleanup task prunes them.
	emailLogRetention = 90 * 24 * time.Hour
)

// Job is the work a task performs. The context is the scheduler's lifetime.
type Job func(ctx context.Context) error

// Scheduler drives the registered jobs per the store's schedule registry.
type Scheduler struct {
	store  *store.Store
	jobs   map[string]Job
	cron   *cron.Cron
	holder string

	// Scheduled state, touched only by Start and the reconcile loop.
	entries   map[string]cron.EntryID
	intervals map[string]time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	now      func() time.Time
	leaseTTL time.Duration
}

// NewScheduler builds a scheduler over the given jobs, keyed by task name.
// Registry rows without a job are ignored until one is registered.
func NewScheduler(st *store.Store, jobs map[string]Job) *Scheduler {
	host, err := os.Hostname()
	if err != nil {
		host = "oju"
	}
	return &Scheduler{
		store:     st,
		jobs:      jobs,
		cron:      cron.New(),
		holder:    fmt.Sprintf("%s/%s", host, uuid.NewString()),
		entries:   make(map[string]cron.EntryID),
		intervals: make(map[string]time.Duration),
		ctx:       context.Background(),
		now:       time.Now,
		leaseTTL:  leaseTTL,
	}
}

// SyncTasks aligns the registry with the current settings; the reconcile
// loop then picks the new intervals up. Call it at startup and after every
// settings save.
func SyncTasks(st *store.Store, s *config.Settings) error {
	if err := st.UpsertTask(TaskMonitor, time.Duration(s.Configuration.ScanFrequencyS)*time.Second, true); err != nil {
		return err
	}
	if err := st.UpsertTask(TaskVTScan, time.Duration(s.Scan.VTFrequencyS)*time.Second, s.Scan.VTEnabled); err != nil {
		return err
	}
	return st.UpsertTask(TaskCleanup, cleanupInterval, true)
}

// Start schedules the registry and begins firing. It returns once the
// timers are armed; jobs run on the cron's goroutines until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.reconcile(); err != nil {
		s.cancel()
		return err
	}
	s.cron.Start()

	go func() {
		ticker := time.NewTicker(reconcileEvery)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if err := s.reconcile(); err != nil {
					slog.Error("schedule: reconciling registry", "err", err)
				}
			}
		}
	}()
	return nil
}

// Stop cancels the job context, halts the timers, and waits for running
// fires to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

// Fire runs the named task immediately under its lease, outside its timer.
func (s *Scheduler) Fire(name string) {
	job, ok := s.jobs[name]
	if !ok {
		slog.Warn("schedule: no job registered", "task", name)
		return
	}
	s.runTask(name, job)
}

// reconcile aligns the cron entries with the registry: new tasks are
// scheduled, interval changes reschedule, disabled tasks are removed.
func (s *Scheduler) reconcile() error {
	tasks, err := s.store.Tasks()
	if err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}

	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		seen[t.Name] = true
		job, ok := s.jobs[t.Name]
		if !ok {
			continue
		}
		if !t.Enabled || t.Interval <= 0 {
			s.unschedule(t.Name)
			continue
		}
		if id, ok := s.entries[t.Name]; ok {
			if s.intervals[t.Name] == t.Interval {
				continue
			}
			s.cron.Remove(id)
			slog.Info("schedule: task rescheduled", "task", t.Name, "interval", t.Interval)
		} else {
			slog.Info("schedule: task scheduled", "task", t.Name, "interval", t.Interval)
		}
		name, j := t.Name, job
		s.entries[t.Name] = s.cron.Schedule(cron.Every(t.Interval), cron.FuncJob(func() {
			s.runTask(name, j)
		}))
		s.intervals[t.Name] = t.Interval
	}

	// Rows deleted from the registry stop firing too.
	for name := range s.entries {
		if !seen[name] {
			s.unschedule(name)
		}
	}
	return nil
}

func (s *Scheduler) unschedule(name string) {
	id, ok := s.entries[name]
	if !ok {
		return
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	delete(s.intervals, name)
	slog.Info("schedule: task unscheduled", "task", name)
}

// runTask executes one fire under the task's lease. A held lease means
// another deployment (or an earlier fire) is still running: skip and log.
func (s *Scheduler) runTask(name string, job Job) {
	acquired, err := s.store.AcquireLease(name, s.holder, s.leaseTTL, s.now())
	if err != nil {
		slog.Error("schedule: acquiring lease", "task", name, "err", err)
		return
	}
	if !acquired {
		slog.Warn("schedule: lease held, skipping fire", "task", name)
		return
	}
	defer func() {
		if err := s.store.ReleaseLease(name, s.holder); err != nil {
			slog.Error("schedule: releasing lease", "task", name, "err", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("schedule: task panic recovered", "task", name, "panic", r)
		}
	}()

	start := s.now()
	if err := job(s.ctx); err != nil {
		slog.Error("schedule: task failed", "task", name, "err", err)
		return
	}
	slog.Debug("schedule: task complete", "task", name, "duration", s.now().Sub(start).Round(time.Millisecond))
}

// Cleanup returns the housekeeping job: it prunes old email log rows and
// expired leases.
func Cleanup(st *store.Store) Job {
	return func(context.Context) error {
		cutoff := time.Now().Add(-emailLogRetention)
		mails, err := st.PruneEmailLog(cutoff)
		if err != nil {
			return err
		}
		leases, err := st.PruneExpiredLeases(time.Now())
		if err != nil {
			return err
		}
		slog.Info("schedule: cleanup complete", "emailLogRows", mails, "expiredLeases", leases)
		return nil
	}
}
