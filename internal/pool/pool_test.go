package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/types"
)

type fakeSession struct {
	id     int
	cred   types.Credential
	submit func(ctx context.Context) (types.DraftResult, error)
	closed atomic.Int32
}

func (s *fakeSession) Login(ctx context.Context) (types.ActionResult, error) {
	return types.ActionResult{Succeeded: true}, nil
}

func (s *fakeSession) SubmitDraft(ctx context.Context, title, body string) (types.DraftResult, error) {
	if s.submit != nil {
		return s.submit(ctx)
	}
	return types.DraftResult{URL: fmt.Sprintf("https://note.com/notes/n%06d", s.id)}, nil
}

func (s *fakeSession) Healthy() bool                { return s.closed.Load() == 0 }
func (s *fakeSession) Credential() types.Credential { return s.cred }
func (s *fakeSession) Close() error                 { s.closed.Add(1); return nil }

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	// behaviour for the n-th created session (0-based); nil means succeed.
	submits []func(ctx context.Context) (types.DraftResult, error)
}

func (f *fakeFactory) NewSession(cred types.Credential) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{id: len(f.sessions) + 1, cred: cred}
	if i := len(f.sessions); i < len(f.submits) {
		s.submit = f.submits[i]
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

type credMap struct {
	mu sync.Mutex
	m  map[string]types.Credential
}

func (c *credMap) Credential(ctx context.Context, accountID string) (types.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.m[accountID]
	if !ok {
		return types.Credential{}, errors.New("no credentials configured")
	}
	return cred, nil
}

func (c *credMap) set(accountID, secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[accountID] = types.Credential{AccountID: accountID, LoginID: accountID + "@example.com", LoginSecret: secret}
}

func newCreds(accounts ...string) *credMap {
	c := &credMap{m: map[string]types.Credential{}}
	for _, a := range accounts {
		c.set(a, "secret")
	}
	return c
}

func fastOptions() Options {
	return Options{
		MaxSessions:       4,
		IdleTimeout:       time.Minute,
		QueueTimeout:      5 * time.Second,
		OpTimeout:         5 * time.Second,
		LoginAttempts:     2,
		SessionsPerMinute: 600000,
	}
}

func newPool(opts Options, f *fakeFactory, creds CredentialSource) *Pool {
	return New(opts, f, creds, logx.Nop(), nil)
}

func noop(ctx context.Context, s Session) error { return nil }

func TestSameAccountNeverOverlaps(t *testing.T) {
	p := newPool(fastOptions(), &fakeFactory{}, newCreds("a"))

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), "a", func(ctx context.Context, s Session) error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestDifferentAccountsRunInParallel(t *testing.T) {
	p := newPool(fastOptions(), &fakeFactory{}, newCreds("a", "b"))

	var entered sync.WaitGroup
	entered.Add(2)
	both := make(chan struct{})
	go func() {
		entered.Wait()
		close(both)
	}()

	errs := make(chan error, 2)
	for _, acct := range []string{"a", "b"} {
		go func() {
			errs <- p.Do(context.Background(), acct, func(ctx context.Context, s Session) error {
				entered.Done()
				select {
				case <-both:
					return nil
				case <-time.After(2 * time.Second):
					return errors.New("accounts were serialized")
				}
			})
		}()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
}

func TestWaitersAreServedInArrivalOrder(t *testing.T) {
	p := newPool(fastOptions(), &fakeFactory{}, newCreds("a"))

	hold := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), "a", func(ctx context.Context, s Session) error {
			close(holding)
			<-hold
			return nil
		})
	}()
	<-holding

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), "a", func(ctx context.Context, s Session) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		require.Eventually(t, func() bool { return p.slotFor("a").queued() == i }, time.Second, time.Millisecond)
	}

	close(hold)
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestQueueTimeoutIsPoolTimeout(t *testing.T) {
	opts := fastOptions()
	opts.QueueTimeout = 20 * time.Millisecond
	p := newPool(opts, &fakeFactory{}, newCreds("a"))

	hold := make(chan struct{})
	holding := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- p.Do(context.Background(), "a", func(ctx context.Context, s Session) error {
			close(holding)
			<-hold
			return nil
		})
	}()
	<-holding

	err := p.Do(context.Background(), "a", noop)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindPoolTimeout))
	assert.Equal(t, 0, p.slotFor("a").queued(), "timed-out waiter left the queue")

	close(hold)
	require.NoError(t, <-done)
	require.NoError(t, p.Do(context.Background(), "a", noop), "slot is usable afterwards")
}

func TestGlobalCapAppliesAcrossAccounts(t *testing.T) {
	opts := fastOptions()
	opts.MaxSessions = 1
	opts.QueueTimeout = 20 * time.Millisecond
	p := newPool(opts, &fakeFactory{}, newCreds("a", "b"))

	hold := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), "a", func(ctx context.Context, s Session) error {
			close(holding)
			<-hold
			return nil
		})
	}()
	<-holding

	err := p.Do(context.Background(), "b", noop)
	assert.True(t, failure.Is(err, failure.KindPoolTimeout))
	close(hold)
}

func TestParentCancellationIsNotPoolTimeout(t *testing.T) {
	p := newPool(fastOptions(), &fakeFactory{}, newCreds("a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hold := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), "a", func(ctx context.Context, s Session) error {
			close(holding)
			<-hold
			return nil
		})
	}()
	<-holding
	defer close(hold)

	err := p.Do(ctx, "a", noop)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, failure.Is(err, failure.KindPoolTimeout))
}

func TestFailureDiscardsSession(t *testing.T) {
	f := &fakeFactory{}
	p := newPool(fastOptions(), f, newCreds("a"))

	boom := errors.New("boom")
	err := p.Do(context.Background(), "a", func(ctx context.Context, s Session) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), f.session(0).closed.Load())

	require.NoError(t, p.Do(context.Background(), "a", noop))
	require.NoError(t, p.Do(context.Background(), "a", noop))
	assert.Equal(t, 2, f.created(), "fresh session after failure, then reused")
}

func TestCredentialChangeReplacesSession(t *testing.T) {
	f := &fakeFactory{}
	creds := newCreds("a")
	p := newPool(fastOptions(), f, creds)

	require.NoError(t, p.Do(context.Background(), "a", noop))
	creds.set("a", "rotated")
	var got types.Credential
	require.NoError(t, p.Do(context.Background(), "a", func(ctx context.Context, s Session) error {
		got = s.Credential()
		return nil
	}))
	assert.Equal(t, 2, f.created())
	assert.Equal(t, "rotated", got.LoginSecret)
	assert.Equal(t, int32(1), f.session(0).closed.Load())
}

func TestMissingCredentialIsLoginError(t *testing.T) {
	f := &fakeFactory{}
	p := newPool(fastOptions(), f, newCreds())

	err := p.Do(context.Background(), "ghost", noop)
	assert.True(t, failure.Is(err, failure.KindLogin))
	assert.Equal(t, 0, f.created())
}

func loginFailure(ctx context.Context) (types.DraftResult, error) {
	err := failure.Newf(failure.KindLogin, "login: verify_login: wrong password")
	return types.DraftResult{}, failure.Wrapf(err, failure.KindSubmit, "submit draft")
}

func TestSubmitRetriesLoginFailureWithFreshSession(t *testing.T) {
	f := &fakeFactory{submits: []func(context.Context) (types.DraftResult, error){loginFailure}}
	p := newPool(fastOptions(), f, newCreds("a"))

	res, err := p.Submit(context.Background(), "a", "t", "b")
	require.NoError(t, err)
	assert.Equal(t, "https://note.com/notes/n000002", res.URL)
	assert.Equal(t, 2, f.created())
}

func TestSubmitLoginFailureExhausted(t *testing.T) {
	f := &fakeFactory{submits: []func(context.Context) (types.DraftResult, error){loginFailure, loginFailure, loginFailure}}
	opts := fastOptions()
	opts.LoginAttempts = 3
	p := newPool(opts, f, newCreds("a"))

	_, err := p.Submit(context.Background(), "a", "t", "b")
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindSubmit))
	assert.True(t, failure.Is(err, failure.KindLogin))
	assert.Equal(t, 3, f.created())
}

func TestSubmitOtherFailureIsNotRetried(t *testing.T) {
	notFound := func(ctx context.Context) (types.DraftResult, error) {
		return types.DraftResult{}, failure.Newf(failure.KindElementNotFound, "editor.body: none matched")
	}
	f := &fakeFactory{submits: []func(context.Context) (types.DraftResult, error){notFound}}
	p := newPool(fastOptions(), f, newCreds("a"))

	_, err := p.Submit(context.Background(), "a", "t", "b")
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindSubmit))
	assert.False(t, failure.Is(err, failure.KindLogin))
	assert.Equal(t, 1, f.created())
}

func TestOpTimeoutBoundsOperation(t *testing.T) {
	opts := fastOptions()
	opts.OpTimeout = 20 * time.Millisecond
	p := newPool(opts, &fakeFactory{}, newCreds("a"))

	err := p.Do(context.Background(), "a", func(ctx context.Context, s Session) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEvictIdleSkipsBusySlots(t *testing.T) {
	f := &fakeFactory{}
	p := newPool(fastOptions(), f, newCreds("a", "b"))
	require.NoError(t, p.Do(context.Background(), "a", noop))

	hold := make(chan struct{})
	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Do(context.Background(), "b", func(ctx context.Context, s Session) error {
			close(holding)
			<-hold
			return nil
		})
	}()
	<-holding

	assert.Equal(t, 0, p.evictIdle(time.Now()), "nothing idle yet")
	assert.Equal(t, 1, p.evictIdle(time.Now().Add(2*time.Minute)), "busy b is never preempted")
	assert.Equal(t, int32(1), f.session(0).closed.Load())

	close(hold)
	<-done
	assert.Equal(t, int32(0), f.session(1).closed.Load())
}

func TestEvictWaitsForInFlight(t *testing.T) {
	f := &fakeFactory{}
	p := newPool(fastOptions(), f, newCreds("a"))
	require.NoError(t, p.Do(context.Background(), "a", noop))

	require.NoError(t, p.Evict(context.Background(), "a"))
	assert.Equal(t, int32(1), f.session(0).closed.Load())
	live, queued := p.Stats()
	assert.Equal(t, 0, live)
	assert.Equal(t, 0, queued)
}

func TestCloseClosesSessionsAndRejectsWork(t *testing.T) {
	f := &fakeFactory{}
	p := newPool(fastOptions(), f, newCreds("a", "b"))
	require.NoError(t, p.Do(context.Background(), "a", noop))
	require.NoError(t, p.Do(context.Background(), "b", noop))

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, int32(1), f.session(0).closed.Load())
	assert.Equal(t, int32(1), f.session(1).closed.Load())

	assert.Error(t, p.Do(context.Background(), "a", noop))
	require.NoError(t, p.Close(context.Background()))
}

func TestSlotCancelledWaiterPassesOwnershipOn(t *testing.T) {
	s := newSlot(nil)
	require.NoError(t, s.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- s.acquire(ctx) }()
	require.Eventually(t, func() bool { return s.queued() == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- s.acquire(context.Background()) }()
	require.Eventually(t, func() bool { return s.queued() == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	s.release()
	require.NoError(t, <-second)
	assert.False(t, s.tryAcquire(), "second waiter owns the slot")
	s.release()
	assert.True(t, s.tryAcquire())
}
