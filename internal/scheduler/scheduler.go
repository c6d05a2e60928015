// Package scheduler fires recurring daily and weekly posting jobs at minute
// granularity.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/types"
)

// Store persists schedule definitions.
type Store interface {
	ListAllSchedules(ctx context.Context) ([]types.Schedule, error)
	AddSchedule(ctx context.Context, s types.Schedule) error
	RemoveSchedule(ctx context.Context, accountID, id string) error
	UpdateScheduleStatus(ctx context.Context, accountID, id string, status types.Status) error
	UpdateLastFired(ctx context.Context, accountID, id string, at time.Time) error
}

// Executor runs one firing of a schedule.
type Executor interface {
	Execute(ctx context.Context, s types.Schedule) types.PostOutcome
}

// Observer receives engine telemetry. Implementations must be safe for concurrent use.
type Observer interface {
	ScheduleDispatched(cadence types.Cadence)
	JobPanicked()
}

// Options tunes the engine.
type Options struct {
	// Location evaluates fire times; defaults to time.Local.
	Location *time.Location
	// JobTimeout bounds one job execution.
	JobTimeout time.Duration
}

// ScheduleInfo contains information about a registered schedule
type ScheduleInfo struct {
	types.Schedule
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run"`
}

// entry is the engine's handle on one schedule. cancel retracts dispatches
// that have not started executing yet; running jobs are never interrupted.
type entry struct {
	sched  types.Schedule
	ctx    context.Context
	cancel context.CancelFunc
}

// Engine evaluates all schedules once per minute and dispatches due jobs.
type Engine struct {
	store Store
	exec  Executor
	loc   *time.Location
	opts  Options
	log   logx.Logger
	obs   Observer
	now   func() time.Time
	newID func() string

	mu      sync.RWMutex
	entries map[string]*entry

	cron     *cron.Cron
	jobs     sync.WaitGroup
	base     context.Context
	stopJobs context.CancelFunc
}

// New creates an engine. Call Seed before Start.
func New(store Store, exec Executor, opts Options, log logx.Logger, obs Observer) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	base, stop := context.WithCancel(context.Background())
	return &Engine{
		store:    store,
		exec:     exec,
		loc:      opts.Location,
		opts:     opts,
		log:      log.Component("scheduler"),
		obs:      obs,
		now:      time.Now,
		newID:    uuid.NewString,
		entries:  make(map[string]*entry),
		base:     base,
		stopJobs: stop,
	}
}

// Seed loads every persisted schedule, including its last firing time.
// Invalid records are skipped and logged.
func (e *Engine) Seed(ctx context.Context) (int, error) {
	all, err := e.store.ListAllSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("load schedules: %w", err)
	}
	n := 0
	for _, s := range all {
		if err := validateStored(s); err != nil {
			e.log.Warn("skipping invalid stored schedule", logx.String("id", s.ID), logx.Err(err))
			continue
		}
		e.register(s)
		n++
	}
	e.log.Info("schedules seeded", logx.Int("count", n))
	return n, nil
}

// Sync reconciles the engine with the store after another process changed
// it: new schedules are registered, deleted ones retracted and status
// changes applied. It returns how many entries changed.
func (e *Engine) Sync(ctx context.Context) (int, error) {
	all, err := e.store.ListAllSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("load schedules: %w", err)
	}

	stored := make(map[string]types.Schedule, len(all))
	for _, s := range all {
		if validateStored(s) == nil {
			stored[s.ID] = s
		}
	}

	changed := 0
	var added []types.Schedule
	e.mu.Lock()
	for id, en := range e.entries {
		s, ok := stored[id]
		if !ok {
			en.cancel()
			delete(e.entries, id)
			changed++
			continue
		}
		if en.sched.Status != s.Status {
			en.sched.Status = s.Status
			changed++
		}
	}
	for id, s := range stored {
		if _, ok := e.entries[id]; !ok {
			added = append(added, s)
		}
	}
	e.mu.Unlock()

	for _, s := range added {
		e.register(s)
		changed++
	}
	if changed > 0 {
		e.log.Info("schedules synced", logx.Int("changed", changed))
	}
	return changed, nil
}

func (e *Engine) register(s types.Schedule) {
	ctx, cancel := context.WithCancel(e.base)
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.entries[s.ID]; ok {
		old.cancel()
	}
	e.entries[s.ID] = &entry{sched: s, ctx: ctx, cancel: cancel}
}

// AddSchedule validates, persists and registers a new active schedule.
func (e *Engine) AddSchedule(ctx context.Context, spec Spec) (string, error) {
	ct, err := Validate(spec)
	if err != nil {
		return "", err
	}
	s := types.Schedule{
		ID:        e.newID(),
		AccountID: spec.AccountID,
		Cadence:   spec.Cadence,
		DayOfWeek: spec.DayOfWeek,
		FireTime:  ct,
		Job:       spec.Job,
		Status:    types.Active,
		CreatedAt: e.now(),
	}
	if err := e.store.AddSchedule(ctx, s); err != nil {
		return "", fmt.Errorf("persist schedule: %w", err)
	}
	e.register(s)
	e.log.Info("added schedule",
		logx.String("id", s.ID),
		logx.String("account", s.AccountID),
		logx.String("cron", cronSpec(s)),
		logx.String("job", string(s.Job.Kind)))
	return s.ID, nil
}

func (e *Engine) lookup(accountID, id string) (*entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.entries[id]
	if !ok || en.sched.AccountID != accountID {
		return nil, fmt.Errorf("schedule %s not found for account %s", id, accountID)
	}
	return en, nil
}

// RemoveSchedule deletes a schedule. It no longer fires from the next tick;
// a job already running for it is left to finish.
func (e *Engine) RemoveSchedule(ctx context.Context, accountID, id string) error {
	if _, err := e.lookup(accountID, id); err != nil {
		return err
	}
	if err := e.store.RemoveSchedule(ctx, accountID, id); err != nil {
		return fmt.Errorf("remove schedule: %w", err)
	}
	e.mu.Lock()
	if en, ok := e.entries[id]; ok {
		en.cancel()
		delete(e.entries, id)
	}
	e.mu.Unlock()
	e.log.Info("removed schedule", logx.String("id", id), logx.String("account", accountID))
	return nil
}

// SetStatus pauses or resumes a schedule.
func (e *Engine) SetStatus(ctx context.Context, accountID, id string, status types.Status) error {
	if status != types.Active && status != types.Paused {
		return failure.Newf(failure.KindScheduleValidation, "unknown status %q", status)
	}
	if _, err := e.lookup(accountID, id); err != nil {
		return err
	}
	if err := e.store.UpdateScheduleStatus(ctx, accountID, id, status); err != nil {
		return fmt.Errorf("update schedule status: %w", err)
	}
	e.mu.Lock()
	if en, ok := e.entries[id]; ok {
		en.sched.Status = status
	}
	e.mu.Unlock()
	e.log.Info("schedule status changed", logx.String("id", id), logx.String("status", string(status)))
	return nil
}

// ListSchedules returns the account's schedules ordered by creation time.
// Paused schedules have a zero NextRun.
func (e *Engine) ListSchedules(accountID string) []ScheduleInfo {
	now := e.now().In(e.loc)
	e.mu.RLock()
	infos := make([]ScheduleInfo, 0, len(e.entries))
	for _, en := range e.entries {
		if en.sched.AccountID != accountID {
			continue
		}
		info := ScheduleInfo{Schedule: en.sched}
		if en.sched.LastFiredAt != nil {
			info.LastRun = *en.sched.LastFiredAt
		}
		if en.sched.Status == types.Active {
			if sched, err := cron.ParseStandard(cronSpec(en.sched)); err == nil {
				info.NextRun = sched.Next(now)
			}
		}
		infos = append(infos, info)
	}
	e.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Tick dispatches every active schedule whose fire time matches now and that
// has not fired in now's minute. It does no I/O and returns the dispatched ids.
func (e *Engine) Tick(now time.Time) []string {
	now = now.In(e.loc)
	minute := now.Truncate(time.Minute)

	var due []*entry
	var snaps []types.Schedule
	e.mu.Lock()
	for _, en := range e.entries {
		s := en.sched
		if !matches(s, now) {
			continue
		}
		if s.LastFiredAt != nil && s.LastFiredAt.In(e.loc).Truncate(time.Minute).Equal(minute) {
			continue
		}
		fired := now
		en.sched.LastFiredAt = &fired
		due = append(due, en)
		snaps = append(snaps, en.sched)
	}
	e.mu.Unlock()

	ids := make([]string, 0, len(due))
	for i, en := range due {
		e.dispatch(en, snaps[i], now)
		ids = append(ids, snaps[i].ID)
	}
	sort.Strings(ids)
	return ids
}

// matches reports whether s is active and scheduled for now's minute.
func matches(s types.Schedule, now time.Time) bool {
	if s.Status != types.Active {
		return false
	}
	if now.Hour() != s.FireTime.Hour || now.Minute() != s.FireTime.Minute {
		return false
	}
	if s.Cadence == types.Weekly {
		return s.DayOfWeek != nil && *s.DayOfWeek == types.WeekdayOf(now.Weekday())
	}
	return s.Cadence == types.Daily
}

func (e *Engine) dispatch(en *entry, s types.Schedule, firedAt time.Time) {
	if e.obs != nil {
		e.obs.ScheduleDispatched(s.Cadence)
	}
	e.log.Info("dispatching schedule",
		logx.String("id", s.ID),
		logx.String("account", s.AccountID),
		logx.String("job", string(s.Job.Kind)))

	e.jobs.Add(1)
	go func() {
		defer e.jobs.Done()
		// lastFiredAt is durable before the job runs, so a restart in the
		// same minute cannot fire it twice.
		ctx, cancel := context.WithTimeout(e.base, 30*time.Second)
		err := e.store.UpdateLastFired(ctx, s.AccountID, s.ID, firedAt)
		cancel()
		if err != nil {
			e.log.Warn("could not persist last fired time", logx.String("id", s.ID), logx.Err(err))
		}
		if en.ctx.Err() != nil {
			e.log.Info("schedule removed before job start", logx.String("id", s.ID))
			return
		}
		e.execute(s)
	}()
}

// execute runs one job with the job timeout. Panics become failed outcomes.
func (e *Engine) execute(s types.Schedule) (out types.PostOutcome) {
	ctx, cancel := context.WithTimeout(e.base, e.opts.JobTimeout)
	defer cancel()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("job panicked",
				logx.String("id", s.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			if e.obs != nil {
				e.obs.JobPanicked()
			}
			out = types.PostOutcome{
				ScheduleID:   s.ID,
				AccountID:    s.AccountID,
				FiredAt:      start,
				Success:      false,
				ErrorKind:    string(failure.KindUnknown),
				ErrorMessage: fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	out = e.exec.Execute(ctx, s)
	if out.Success {
		e.log.Info("job completed",
			logx.String("id", s.ID),
			logx.String("url", out.ResultURL),
			logx.Duration("elapsed", time.Since(start)))
	} else {
		e.log.Warn("job failed",
			logx.String("id", s.ID),
			logx.String("kind", out.ErrorKind),
			logx.String("error", out.ErrorMessage),
			logx.Duration("elapsed", time.Since(start)))
	}
	return out
}

// RunNow executes a schedule's job immediately and waits for the outcome.
// It does not count as a firing.
func (e *Engine) RunNow(ctx context.Context, accountID, id string) (types.PostOutcome, error) {
	en, err := e.lookup(accountID, id)
	if err != nil {
		return types.PostOutcome{}, err
	}
	e.mu.RLock()
	s := en.sched
	e.mu.RUnlock()

	e.log.Info("running schedule now", logx.String("id", id))
	done := make(chan types.PostOutcome, 1)
	e.jobs.Add(1)
	go func() {
		defer e.jobs.Done()
		done <- e.execute(s)
	}()
	select {
	case out := <-done:
		return out, nil
	case <-ctx.Done():
		return types.PostOutcome{}, ctx.Err()
	}
}

// Start begins ticking on every minute boundary, plus once immediately.
func (e *Engine) Start() {
	cl := cronLogger{e.log}
	e.cron = cron.New(
		cron.WithLocation(e.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := e.cron.AddFunc("* * * * *", func() { e.syncAndTick(e.now()) }); err != nil {
		// Constant expression; cannot fail.
		panic(err)
	}
	e.log.Info("starting scheduler", logx.String("location", e.loc.String()))
	e.cron.Start()
	e.syncAndTick(e.now())
}

// syncTimeout bounds the store read that precedes each tick.
const syncTimeout = 10 * time.Second

// syncAndTick re-reads the store, then ticks. Removals and pauses made by
// another process therefore take effect from the very next minute. When the
// store is unreachable the tick runs on the last known state.
func (e *Engine) syncAndTick(now time.Time) []string {
	ctx, cancel := context.WithTimeout(e.base, syncTimeout)
	defer cancel()
	if _, err := e.Sync(ctx); err != nil {
		e.log.Warn("schedule sync before tick failed", logx.Err(err))
	}
	return e.Tick(now)
}

// Stop halts ticking and waits for running jobs. When ctx ends first, running
// jobs are cancelled and ctx's error is returned.
func (e *Engine) Stop(ctx context.Context) error {
	e.log.Info("stopping scheduler")
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	done := make(chan struct{})
	go func() {
		e.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.stopJobs()
		return nil
	case <-ctx.Done():
		e.stopJobs()
		return ctx.Err()
	}
}

// cronSpec renders s as a standard five-field cron expression.
func cronSpec(s types.Schedule) string {
	if s.Cadence == types.Weekly && s.DayOfWeek != nil {
		return fmt.Sprintf("%d %d * * %d", s.FireTime.Minute, s.FireTime.Hour, s.DayOfWeek.CronDay())
	}
	return fmt.Sprintf("%d %d * * *", s.FireTime.Minute, s.FireTime.Hour)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", keysAndValues))
}
