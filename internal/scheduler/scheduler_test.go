package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/types"
)

var tokyo = mustLoad("Asia/Tokyo")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

// 2025-01-08 is a Wednesday.
func at(day, hour, minute, sec int) time.Time {
	return time.Date(2025, 1, day, hour, minute, sec, 0, tokyo)
}

type memStore struct {
	mu        sync.Mutex
	schedules map[string]types.Schedule
	lastFired map[string]time.Time
	failList  error
}

func newMemStore() *memStore {
	return &memStore{schedules: map[string]types.Schedule{}, lastFired: map[string]time.Time{}}
}

func (m *memStore) ListAllSchedules(ctx context.Context) ([]types.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	out := make([]types.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) AddSchedule(ctx context.Context, s types.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
	return nil
}

func (m *memStore) RemoveSchedule(ctx context.Context, accountID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

func (m *memStore) UpdateScheduleStatus(ctx context.Context, accountID, id string, status types.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return errors.New("not found")
	}
	s.Status = status
	m.schedules[id] = s
	return nil
}

func (m *memStore) UpdateLastFired(ctx context.Context, accountID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFired[id] = at
	return nil
}

func (m *memStore) fired(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastFired[id]
	return t, ok
}

type recExecutor struct {
	mu      sync.Mutex
	runs    []string
	started chan string
	ran     chan string
	block   chan struct{}
	fn      func(ctx context.Context, s types.Schedule) types.PostOutcome
}

func newRecExecutor() *recExecutor {
	return &recExecutor{started: make(chan string, 64), ran: make(chan string, 64)}
}

func (r *recExecutor) Execute(ctx context.Context, s types.Schedule) types.PostOutcome {
	r.started <- s.ID
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.runs = append(r.runs, s.ID)
	r.mu.Unlock()
	defer func() { r.ran <- s.ID }()
	if r.fn != nil {
		return r.fn(ctx, s)
	}
	return types.PostOutcome{ScheduleID: s.ID, AccountID: s.AccountID, Success: true}
}

func (r *recExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func newEngine(store Store, exec Executor) *Engine {
	e := New(store, exec, Options{Location: tokyo, JobTimeout: time.Minute}, logx.Nop(), nil)
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
	e.now = func() time.Time { return at(1, 0, 0, 0) }
	return e
}

func weekday(d types.Weekday) *types.Weekday { return &d }

func repost(id int64) types.JobSpec {
	return types.JobSpec{Kind: types.RepostExisting, ArticleID: id}
}

func waitRuns(t *testing.T, exec *recExecutor, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return exec.count() >= n }, 2*time.Second, 2*time.Millisecond)
}

func TestDailyFiresOncePerMinute(t *testing.T) {
	exec := newRecExecutor()
	e := newEngine(newMemStore(), exec)
	id, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "07:30", Job: repost(1)})
	require.NoError(t, err)

	assert.Empty(t, e.Tick(at(8, 7, 29, 59)))
	assert.Equal(t, []string{id}, e.Tick(at(8, 7, 30, 0)))
	assert.Empty(t, e.Tick(at(8, 7, 30, 20)))
	assert.Empty(t, e.Tick(at(8, 7, 30, 59)))
	assert.Empty(t, e.Tick(at(8, 7, 31, 0)))
	assert.Equal(t, []string{id}, e.Tick(at(9, 7, 30, 5)), "next calendar day")

	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, 2, exec.count())
}

func TestTickUsesEngineLocation(t *testing.T) {
	exec := newRecExecutor()
	e := newEngine(newMemStore(), exec)
	id, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)

	// 00:00 UTC is 09:00 in Tokyo.
	assert.Equal(t, []string{id}, e.Tick(time.Date(2025, 1, 8, 0, 0, 10, 0, time.UTC)))
	require.NoError(t, e.Stop(context.Background()))
}

func TestWeeklyRequiresMatchingDay(t *testing.T) {
	exec := newRecExecutor()
	e := newEngine(newMemStore(), exec)
	id, err := e.AddSchedule(context.Background(), Spec{
		AccountID: "a", Cadence: types.Weekly, DayOfWeek: weekday(2), FireTime: "09:00", Job: repost(7),
	})
	require.NoError(t, err)

	assert.Empty(t, e.Tick(at(7, 9, 0, 0)), "Tuesday")
	assert.Empty(t, e.Tick(at(9, 9, 0, 0)), "Thursday")
	assert.Empty(t, e.Tick(at(8, 9, 1, 0)), "Wednesday, wrong minute")
	assert.Equal(t, []string{id}, e.Tick(at(8, 9, 0, 0)), "Wednesday 09:00")
	assert.Equal(t, []string{id}, e.Tick(at(15, 9, 0, 0)), "following Wednesday")

	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, 2, exec.count())
}

func TestAddScheduleValidation(t *testing.T) {
	tests := map[string]Spec{
		"hour out of range":   {AccountID: "a", Cadence: types.Daily, FireTime: "24:00", Job: repost(1)},
		"minute out of range": {AccountID: "a", Cadence: types.Daily, FireTime: "09:60", Job: repost(1)},
		"single digit minute": {AccountID: "a", Cadence: types.Daily, FireTime: "9:5", Job: repost(1)},
		"not a time":          {AccountID: "a", Cadence: types.Daily, FireTime: "ab:cd", Job: repost(1)},
		"no colon":            {AccountID: "a", Cadence: types.Daily, FireTime: "0900", Job: repost(1)},
		"signed hour":         {AccountID: "a", Cadence: types.Daily, FireTime: "+9:00", Job: repost(1)},
		"negative zero hour":  {AccountID: "a", Cadence: types.Daily, FireTime: "-0:00", Job: repost(1)},
		"signed minute":       {AccountID: "a", Cadence: types.Daily, FireTime: "9:+0", Job: repost(1)},
		"spaces":              {AccountID: "a", Cadence: types.Daily, FireTime: " 9:00", Job: repost(1)},
		"weekday too large":   {AccountID: "a", Cadence: types.Weekly, DayOfWeek: weekday(7), FireTime: "09:00", Job: repost(1)},
		"weekday negative":    {AccountID: "a", Cadence: types.Weekly, DayOfWeek: weekday(-1), FireTime: "09:00", Job: repost(1)},
		"weekly without day":  {AccountID: "a", Cadence: types.Weekly, FireTime: "09:00", Job: repost(1)},
		"daily with day":      {AccountID: "a", Cadence: types.Daily, DayOfWeek: weekday(1), FireTime: "09:00", Job: repost(1)},
		"unknown cadence":     {AccountID: "a", Cadence: "monthly", FireTime: "09:00", Job: repost(1)},
		"missing account":     {Cadence: types.Daily, FireTime: "09:00", Job: repost(1)},
		"repost without id":   {AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(0)},
		"unknown job kind":    {AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: types.JobSpec{Kind: "delete"}},
	}
	for name, spec := range tests {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			e := newEngine(store, newRecExecutor())
			_, err := e.AddSchedule(context.Background(), spec)
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.KindScheduleValidation))
			assert.Empty(t, store.schedules, "rejected schedules are never persisted")
			assert.Empty(t, e.ListSchedules("a"))
		})
	}
}

func TestParseClock(t *testing.T) {
	ct, err := ParseClock("09:05")
	require.NoError(t, err)
	assert.Equal(t, types.ClockTime{Hour: 9, Minute: 5}, ct)

	ct, err = ParseClock("7:45")
	require.NoError(t, err)
	assert.Equal(t, "07:45", ct.String())

	ct, err = ParseClock("23:59")
	require.NoError(t, err)
	assert.Equal(t, types.ClockTime{Hour: 23, Minute: 59}, ct)

	for _, in := range []string{"+9:00", "-0:00", "9:+0", "09:-1", "+09:00"} {
		_, err := ParseClock(in)
		assert.Error(t, err, in)
	}
}

func TestRemoveStopsFutureFiringsOnly(t *testing.T) {
	exec := newRecExecutor()
	exec.block = make(chan struct{})
	store := newMemStore()
	e := newEngine(store, exec)

	var gotCtxErr error
	exec.fn = func(ctx context.Context, s types.Schedule) types.PostOutcome {
		gotCtxErr = ctx.Err()
		return types.PostOutcome{ScheduleID: s.ID, Success: true}
	}

	id, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)
	require.Equal(t, []string{id}, e.Tick(at(8, 9, 0, 0)))
	require.Equal(t, id, <-exec.started)

	require.NoError(t, e.RemoveSchedule(context.Background(), "a", id))
	assert.NotContains(t, store.schedules, id)
	assert.Empty(t, e.Tick(at(9, 9, 0, 0)))

	// The job that was already running finishes normally.
	close(exec.block)
	assert.Equal(t, id, <-exec.ran)
	assert.NoError(t, gotCtxErr)
	require.NoError(t, e.Stop(context.Background()))
}

func TestRemoveOtherAccountsScheduleFails(t *testing.T) {
	e := newEngine(newMemStore(), newRecExecutor())
	id, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)

	assert.Error(t, e.RemoveSchedule(context.Background(), "b", id))
	assert.Len(t, e.ListSchedules("a"), 1)
}

func TestPausedSchedulesDoNotFire(t *testing.T) {
	exec := newRecExecutor()
	store := newMemStore()
	e := newEngine(store, exec)
	id, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)

	require.NoError(t, e.SetStatus(context.Background(), "a", id, types.Paused))
	assert.Equal(t, types.Paused, store.schedules[id].Status)
	assert.Empty(t, e.Tick(at(8, 9, 0, 0)))
	assert.True(t, e.ListSchedules("a")[0].NextRun.IsZero())

	require.NoError(t, e.SetStatus(context.Background(), "a", id, types.Active))
	assert.Equal(t, []string{id}, e.Tick(at(9, 9, 0, 0)))
	assert.Error(t, e.SetStatus(context.Background(), "a", id, "archived"))
	require.NoError(t, e.Stop(context.Background()))
}

func TestSeedRestoresLastFired(t *testing.T) {
	store := newMemStore()
	fired := at(8, 9, 0, 3)
	store.schedules["kept"] = types.Schedule{
		ID: "kept", AccountID: "a", Cadence: types.Daily,
		FireTime: types.ClockTime{Hour: 9}, Job: repost(1), Status: types.Active, LastFiredAt: &fired,
	}
	store.schedules["broken"] = types.Schedule{
		ID: "broken", AccountID: "a", Cadence: types.Weekly, DayOfWeek: weekday(9),
		FireTime: types.ClockTime{Hour: 9}, Job: repost(1), Status: types.Active,
	}

	exec := newRecExecutor()
	e := newEngine(store, exec)
	n, err := e.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A restart within the minute that already fired does not fire again.
	assert.Empty(t, e.Tick(at(8, 9, 0, 40)))
	assert.Equal(t, []string{"kept"}, e.Tick(at(9, 9, 0, 0)))
	require.NoError(t, e.Stop(context.Background()))
}

func TestSeedPropagatesStoreError(t *testing.T) {
	store := newMemStore()
	store.failList = errors.New("disk gone")
	_, err := newEngine(store, newRecExecutor()).Seed(context.Background())
	assert.Error(t, err)
}

func TestTickPersistsLastFired(t *testing.T) {
	store := newMemStore()
	e := newEngine(store, newRecExecutor())
	id, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)

	now := at(8, 9, 0, 12)
	e.Tick(now)
	require.NoError(t, e.Stop(context.Background()))

	got, ok := store.fired(id)
	require.True(t, ok)
	assert.True(t, got.Equal(now))
	assert.True(t, e.ListSchedules("a")[0].LastRun.Equal(now))
}

func TestLastFiredPersistedBeforeJobRuns(t *testing.T) {
	store := newMemStore()
	exec := newRecExecutor()
	e := newEngine(store, exec)
	id, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)

	var persisted bool
	exec.fn = func(ctx context.Context, s types.Schedule) types.PostOutcome {
		_, persisted = store.fired(s.ID)
		return types.PostOutcome{ScheduleID: s.ID, Success: true}
	}
	e.Tick(at(8, 9, 0, 0))
	require.NoError(t, e.Stop(context.Background()))

	assert.True(t, persisted, "last fired time of %s must be stored before Execute", id)
}

func TestSlowJobDoesNotBlockTick(t *testing.T) {
	exec := newRecExecutor()
	exec.block = make(chan struct{})
	e := newEngine(newMemStore(), exec)
	for _, acct := range []string{"a", "b"} {
		_, err := e.AddSchedule(context.Background(), Spec{AccountID: acct, Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
		require.NoError(t, err)
	}

	done := make(chan []string, 1)
	go func() { done <- e.Tick(at(8, 9, 0, 0)) }()
	select {
	case ids := <-done:
		assert.Len(t, ids, 2)
	case <-time.After(time.Second):
		t.Fatal("Tick blocked on a running job")
	}
	close(exec.block)
	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, 2, exec.count())
}

func TestRunNowDoesNotCountAsFiring(t *testing.T) {
	exec := newRecExecutor()
	store := newMemStore()
	e := newEngine(store, exec)
	id, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)

	out, err := e.RunNow(context.Background(), "a", id)
	require.NoError(t, err)
	assert.True(t, out.Success)
	_, persisted := store.fired(id)
	assert.False(t, persisted)

	assert.Equal(t, []string{id}, e.Tick(at(8, 9, 0, 0)), "still fires on schedule")
	require.NoError(t, e.Stop(context.Background()))

	_, err = e.RunNow(context.Background(), "a", "missing")
	assert.Error(t, err)
}

func TestPanickingJobBecomesFailedOutcome(t *testing.T) {
	exec := newRecExecutor()
	exec.fn = func(ctx context.Context, s types.Schedule) types.PostOutcome { panic("boom") }
	e := newEngine(newMemStore(), exec)
	id, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)

	out, err := e.RunNow(context.Background(), "a", id)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, string(failure.KindUnknown), out.ErrorKind)
	assert.Contains(t, out.ErrorMessage, "boom")

	// The engine keeps working afterwards.
	assert.Equal(t, []string{id}, e.Tick(at(8, 9, 0, 0)))
	waitRuns(t, exec, 2)
	require.NoError(t, e.Stop(context.Background()))
}

func TestListSchedulesNextRun(t *testing.T) {
	e := newEngine(newMemStore(), newRecExecutor())
	e.now = func() time.Time { return at(8, 10, 0, 0) } // Wednesday 10:00

	_, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)
	_, err = e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Weekly, DayOfWeek: weekday(2), FireTime: "09:00", Job: repost(2)})
	require.NoError(t, err)
	_, err = e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Weekly, DayOfWeek: weekday(6), FireTime: "23:15", Job: repost(3)})
	require.NoError(t, err)
	_, err = e.AddSchedule(context.Background(), Spec{AccountID: "b", Cadence: types.Daily, FireTime: "09:00", Job: repost(4)})
	require.NoError(t, err)

	infos := e.ListSchedules("a")
	require.Len(t, infos, 3)
	assert.True(t, infos[0].NextRun.Equal(at(9, 9, 0, 0)), "daily: tomorrow 09:00, got %s", infos[0].NextRun)
	assert.True(t, infos[1].NextRun.Equal(at(15, 9, 0, 0)), "weekly Wednesday: next week, got %s", infos[1].NextRun)
	assert.True(t, infos[2].NextRun.Equal(at(12, 23, 15, 0)), "weekly Sunday, got %s", infos[2].NextRun)
}

func TestCronSpec(t *testing.T) {
	daily := types.Schedule{Cadence: types.Daily, FireTime: types.ClockTime{Hour: 7, Minute: 5}}
	assert.Equal(t, "5 7 * * *", cronSpec(daily))

	mon := types.Schedule{Cadence: types.Weekly, DayOfWeek: weekday(0), FireTime: types.ClockTime{Hour: 9}}
	assert.Equal(t, "0 9 * * 1", cronSpec(mon))
	sun := types.Schedule{Cadence: types.Weekly, DayOfWeek: weekday(6), FireTime: types.ClockTime{Hour: 9}}
	assert.Equal(t, "0 9 * * 0", cronSpec(sun))
}

func TestStartTicksImmediately(t *testing.T) {
	exec := newRecExecutor()
	e := newEngine(newMemStore(), exec)
	e.now = func() time.Time { return at(8, 9, 0, 30) }
	_, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)

	e.Start()
	waitRuns(t, exec, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
	assert.Equal(t, 1, exec.count())
}

func TestSyncPicksUpExternalChanges(t *testing.T) {
	store := newMemStore()
	e := newEngine(store, newRecExecutor())
	ctx := context.Background()

	gone, err := e.AddSchedule(ctx, Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)
	paused, err := e.AddSchedule(ctx, Spec{AccountID: "a", Cadence: types.Daily, FireTime: "10:00", Job: repost(1)})
	require.NoError(t, err)

	store.mu.Lock()
	delete(store.schedules, gone)
	s := store.schedules[paused]
	s.Status = types.Paused
	store.schedules[paused] = s
	store.schedules["ext"] = types.Schedule{
		ID: "ext", AccountID: "b", Cadence: types.Daily,
		FireTime: types.ClockTime{Hour: 11}, Job: repost(2), Status: types.Active,
	}
	store.mu.Unlock()

	n, err := e.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Len(t, e.ListSchedules("a"), 1)
	assert.Equal(t, types.Paused, e.ListSchedules("a")[0].Status)
	assert.Len(t, e.ListSchedules("b"), 1)
	assert.Empty(t, e.Tick(at(8, 9, 0, 0)))
	assert.Equal(t, []string{"ext"}, e.Tick(at(8, 11, 0, 0)))

	n, err = e.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, e.Stop(ctx))
}

func TestEditsFromAnotherEngineApplyOnNextTick(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	daemonExec := newRecExecutor()
	daemon := newEngine(store, daemonExec)
	removed, err := daemon.AddSchedule(ctx, Spec{AccountID: "a", Cadence: types.Weekly, DayOfWeek: weekday(2), FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)
	paused, err := daemon.AddSchedule(ctx, Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(2)})
	require.NoError(t, err)

	cli := newEngine(store, newRecExecutor())
	cli.newID = func() string { return "cli1" }
	_, err = cli.Seed(ctx)
	require.NoError(t, err)
	require.NoError(t, cli.RemoveSchedule(ctx, "a", removed))
	require.NoError(t, cli.SetStatus(ctx, "a", paused, types.Paused))
	added, err := cli.AddSchedule(ctx, Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(3)})
	require.NoError(t, err)

	assert.Equal(t, []string{added}, daemon.syncAndTick(at(8, 9, 0, 0)))
	require.NoError(t, daemon.Stop(ctx))
	require.NoError(t, cli.Stop(ctx))

	daemonExec.mu.Lock()
	defer daemonExec.mu.Unlock()
	assert.Equal(t, []string{added}, daemonExec.runs)
}

func TestSyncAndTickFallsBackToKnownSchedules(t *testing.T) {
	store := newMemStore()
	exec := newRecExecutor()
	e := newEngine(store, exec)
	id, err := e.AddSchedule(context.Background(), Spec{AccountID: "a", Cadence: types.Daily, FireTime: "09:00", Job: repost(1)})
	require.NoError(t, err)

	store.mu.Lock()
	store.failList = errors.New("database is locked")
	store.mu.Unlock()

	assert.Equal(t, []string{id}, e.syncAndTick(at(8, 9, 0, 0)))
	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, 1, exec.count())
}
