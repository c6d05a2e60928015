// Package pool hands out one browser session per account and serializes
// operations on it.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/types"
)

// Session is the part of a browser session the pool drives.
type Session interface {
	Login(ctx context.Context) (types.ActionResult, error)
	SubmitDraft(ctx context.Context, title, body string) (types.DraftResult, error)
	Healthy() bool
	Credential() types.Credential
	Close() error
}

// Factory creates an unauthenticated session for a credential.
type Factory interface {
	NewSession(cred types.Credential) (Session, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(cred types.Credential) (Session, error)

func (f FactoryFunc) NewSession(cred types.Credential) (Session, error) { return f(cred) }

// CredentialSource yields the current credential for an account.
type CredentialSource interface {
	Credential(ctx context.Context, accountID string) (types.Credential, error)
}

// Observer receives pool telemetry. Implementations must be safe for concurrent use.
type Observer interface {
	PoolOperation(op string, kind failure.Kind, elapsed time.Duration)
	PoolWait(wait time.Duration)
	SessionCreated()
	SessionDiscarded(reason string)
}

// Options tunes the pool.
type Options struct {
	// MaxSessions caps concurrently running operations across accounts.
	MaxSessions int
	// IdleTimeout evicts sessions unused for this long.
	IdleTimeout time.Duration
	// QueueTimeout bounds the wait for the account slot and a global permit.
	QueueTimeout time.Duration
	// OpTimeout bounds one operation once it holds the session.
	OpTimeout time.Duration
	// LoginAttempts is how many fresh sessions Submit tries when login fails.
	LoginAttempts int
	// RetryBackoff is the pause between Submit attempts.
	RetryBackoff time.Duration
	// SessionsPerMinute throttles session creation per account.
	SessionsPerMinute float64
	// JanitorInterval is how often idle sessions are checked.
	JanitorInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxSessions <= 0 {
		o.MaxSessions = 4
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 15 * time.Minute
	}
	if o.QueueTimeout <= 0 {
		o.QueueTimeout = 20 * time.Minute
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 10 * time.Minute
	}
	if o.LoginAttempts <= 0 {
		o.LoginAttempts = 1
	}
	if o.SessionsPerMinute <= 0 {
		o.SessionsPerMinute = 6
	}
	if o.JanitorInterval <= 0 {
		o.JanitorInterval = min(o.IdleTimeout/2, time.Minute)
	}
}

// Pool guarantees at most one in-flight operation per account while letting
// different accounts proceed in parallel up to MaxSessions.
type Pool struct {
	opts    Options
	factory Factory
	creds   CredentialSource
	log     logx.Logger
	obs     Observer
	sem     *semaphore.Weighted
	now     func() time.Time

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool

	inflight sync.WaitGroup
}

// New creates a pool. obs may be nil.
func New(opts Options, factory Factory, creds CredentialSource, log logx.Logger, obs Observer) *Pool {
	opts.setDefaults()
	return &Pool{
		opts:    opts,
		factory: factory,
		creds:   creds,
		log:     log.Component("pool"),
		obs:     obs,
		sem:     semaphore.NewWeighted(int64(opts.MaxSessions)),
		now:     time.Now,
		slots:   make(map[string]*slot),
	}
}

func (p *Pool) slotFor(accountID string) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[accountID]
	if !ok {
		perMinute := rate.Limit(p.opts.SessionsPerMinute / 60.0)
		s = newSlot(rate.NewLimiter(perMinute, 1))
		p.slots[accountID] = s
	}
	return s
}

// Do runs fn with the account's session. Operations for one account never
// overlap and start in arrival order. If fn fails the session is discarded
// and the next operation starts from a fresh one.
func (p *Pool) Do(ctx context.Context, accountID string, fn func(ctx context.Context, s Session) error) error {
	return p.run(ctx, "do", accountID, fn)
}

func (p *Pool) run(ctx context.Context, op, accountID string, fn func(ctx context.Context, s Session) error) (err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("pool closed")
	}
	p.inflight.Add(1)
	p.mu.Unlock()
	defer p.inflight.Done()

	start := p.now()
	defer func() {
		if p.obs != nil {
			p.obs.PoolOperation(op, failure.KindOf(err), p.now().Sub(start))
		}
	}()

	release, err := p.admit(ctx, accountID)
	if err != nil {
		return err
	}
	defer release()
	if p.obs != nil {
		p.obs.PoolWait(p.now().Sub(start))
	}

	sl := p.slotFor(accountID)
	sess, err := p.session(ctx, sl, accountID)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, p.opts.OpTimeout)
	defer cancel()

	err = fn(opCtx, sess)
	sl.lastUsed = p.now()
	if err != nil {
		p.discard(sl, accountID, "operation failed")
	}
	return err
}

// admit waits for the account slot, then a global permit, within QueueTimeout.
func (p *Pool) admit(ctx context.Context, accountID string) (func(), error) {
	qctx, cancel := context.WithTimeout(ctx, p.opts.QueueTimeout)
	defer cancel()

	sl := p.slotFor(accountID)
	if err := sl.acquire(qctx); err != nil {
		return nil, p.queueErr(ctx, accountID, "account slot", err)
	}
	if err := p.sem.Acquire(qctx, 1); err != nil {
		sl.release()
		return nil, p.queueErr(ctx, accountID, "global session permit", err)
	}
	return func() {
		p.sem.Release(1)
		sl.release()
	}, nil
}

func (p *Pool) queueErr(ctx context.Context, accountID, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.log.Warn("queue wait exceeded",
		logx.String("account", accountID),
		logx.String("waiting_for", what),
		logx.Duration("timeout", p.opts.QueueTimeout))
	return failure.Wrapf(err, failure.KindPoolTimeout, "waiting for %s of %s", what, accountID)
}

// session returns the slot's session, replacing it when unhealthy or when the
// account's credential changed. Must be called while owning the slot.
func (p *Pool) session(ctx context.Context, sl *slot, accountID string) (Session, error) {
	cred, err := p.creds.Credential(ctx, accountID)
	if err != nil {
		return nil, failure.Wrapf(err, failure.KindLogin, "credential for %s", accountID)
	}

	if sl.sess != nil {
		switch {
		case !sl.sess.Healthy():
			p.discard(sl, accountID, "unhealthy")
		case sl.sess.Credential() != cred:
			p.discard(sl, accountID, "credential changed")
		default:
			return sl.sess, nil
		}
	}

	if err := sl.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("session creation throttled: %w", err)
	}
	sess, err := p.factory.NewSession(cred)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", accountID, err)
	}
	sl.sess = sess
	sl.lastUsed = p.now()
	if p.obs != nil {
		p.obs.SessionCreated()
	}
	p.log.Debug("session created", logx.String("account", accountID))
	return sess, nil
}

// discard closes the slot's session. Must be called while owning the slot.
func (p *Pool) discard(sl *slot, accountID, reason string) {
	if sl.sess == nil {
		return
	}
	if err := sl.sess.Close(); err != nil {
		p.log.Debug("session close failed", logx.String("account", accountID), logx.Err(err))
	}
	sl.sess = nil
	if p.obs != nil {
		p.obs.SessionDiscarded(reason)
	}
	p.log.Info("session discarded", logx.String("account", accountID), logx.String("reason", reason))
}

// Submit saves a draft through the account's session. A login failure is
// retried with a fresh session up to LoginAttempts times; any failure is
// reported as SubmitError.
func (p *Pool) Submit(ctx context.Context, accountID, title, body string) (types.DraftResult, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.LoginAttempts; attempt++ {
		var res types.DraftResult
		err := p.run(ctx, "submit", accountID, func(ctx context.Context, s Session) error {
			var err error
			res, err = s.SubmitDraft(ctx, title, body)
			return err
		})
		if err == nil {
			return res, nil
		}
		if failure.Is(err, failure.KindPoolTimeout) || ctx.Err() != nil {
			return types.DraftResult{}, err
		}
		lastErr = err
		if !failure.Is(err, failure.KindLogin) {
			break
		}
		if attempt < p.opts.LoginAttempts {
			p.log.Warn("login failed during submit; retrying with a fresh session",
				logx.String("account", accountID),
				logx.Int("attempt", attempt),
				logx.Err(err))
			if !sleep(ctx, p.opts.RetryBackoff) {
				return types.DraftResult{}, ctx.Err()
			}
		}
	}
	if failure.Is(lastErr, failure.KindSubmit) {
		return types.DraftResult{}, lastErr
	}
	return types.DraftResult{}, failure.Wrapf(lastErr, failure.KindSubmit, "submit for %s", accountID)
}

// Login authenticates the account's session, for credential checks.
func (p *Pool) Login(ctx context.Context, accountID string) (bool, error) {
	var res types.ActionResult
	err := p.run(ctx, "login", accountID, func(ctx context.Context, s Session) error {
		var err error
		res, err = s.Login(ctx)
		return err
	})
	return err == nil && res.Succeeded, err
}

// Evict closes the account's session once any in-flight operation finishes.
func (p *Pool) Evict(ctx context.Context, accountID string) error {
	sl := p.slotFor(accountID)
	if err := sl.acquire(ctx); err != nil {
		return err
	}
	defer sl.release()
	p.discard(sl, accountID, "evicted")
	return nil
}

// Start runs the idle janitor until ctx is done.
func (p *Pool) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(p.opts.JanitorInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.evictIdle(p.now())
			}
		}
	}()
}

// evictIdle closes sessions idle past IdleTimeout. Busy slots are skipped.
func (p *Pool) evictIdle(now time.Time) int {
	p.mu.Lock()
	ids := make([]string, 0, len(p.slots))
	slots := make([]*slot, 0, len(p.slots))
	for id, s := range p.slots {
		ids = append(ids, id)
		slots = append(slots, s)
	}
	p.mu.Unlock()

	evicted := 0
	for i, sl := range slots {
		if !sl.tryAcquire() {
			continue
		}
		if sl.sess != nil && now.Sub(sl.lastUsed) >= p.opts.IdleTimeout {
			p.discard(sl, ids[i], "idle")
			evicted++
		}
		sl.release()
	}
	return evicted
}

// Stats reports how many accounts hold a session or are mid-operation, and
// how many operations are queued.
func (p *Pool) Stats() (live, queued int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sl := range p.slots {
		queued += sl.queued()
		if sl.tryAcquire() {
			if sl.sess != nil {
				live++
			}
			sl.release()
		} else {
			live++
		}
	}
	return live, queued
}

// Close rejects new operations, waits for in-flight ones (bounded by ctx) and
// closes every session.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("pool close: %w", ctx.Err())
	}

	p.mu.Lock()
	slots := make(map[string]*slot, len(p.slots))
	for id, s := range p.slots {
		slots[id] = s
	}
	p.mu.Unlock()

	var g errgroup.Group
	for id, sl := range slots {
		if sl.sess == nil {
			continue
		}
		sess := sl.sess
		sl.sess = nil
		g.Go(func() error {
			if err := sess.Close(); err != nil {
				return fmt.Errorf("close session %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
