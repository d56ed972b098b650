// Package dispatch turns a prompt into a result by walking an ordered
// fallback chain, guarded by the session's throttle and cache.
package dispatch

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"www.github.com/Wanderer0074348/VirtualTutor/src/config"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
	"www.github.com/Wanderer0074348/VirtualTutor/src/router"
	"www.github.com/Wanderer0074348/VirtualTutor/src/session"
)

// Action is what the dispatcher does after a failed attempt.
type Action string

const (
	// Switch moves to the next target immediately.
	Switch Action = config.ActionSwitch
	// Retry calls the same target again after a backoff delay while the
	// dispatch-wide retry budget lasts, then moves on.
	Retry Action = config.ActionRetry
	// Backoff waits once, then moves to the next target.
	Backoff Action = config.ActionBackoff
)

// Observer receives dispatch telemetry. The metrics package implements it.
type Observer interface {
	ObserveAttempt(target string, mode models.Mode, kind models.FailureKind, latency time.Duration)
	ObserveDispatch(mode models.Mode, outcome string, latency time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, models.Mode, models.FailureKind, time.Duration) {}
func (nopObserver) ObserveDispatch(models.Mode, string, time.Duration) {}

// Outcome labels passed to Observer.ObserveDispatch.
const (
	OutcomeSuccess  = "success"
	OutcomeCacheHit = "cache_hit"
)

type Dispatcher struct {
	policy      map[models.FailureKind]Action
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	timeouts    map[models.Mode]time.Duration

	logger   *zap.Logger
	observer Observer
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithSleep replaces the backoff sleeper, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// New builds a dispatcher from the fallback and timeout sections.
func New(fb config.FallbackConfig, timeouts config.TimeoutConfig, opts ...Option) *Dispatcher {
	policy := make(map[models.FailureKind]Action, len(fb.Policy))
	for kind, action := range config.DefaultPolicy() {
		policy[models.FailureKind(kind)] = Action(action)
	}
	for kind, action := range fb.Policy {
		policy[models.FailureKind(strings.ToLower(kind))] = Action(strings.ToLower(action))
	}

	d := &Dispatcher{
		policy:      policy,
		maxRetries:  fb.MaxRetries,
		backoffBase: fb.BackoffBase,
		backoffMax:  fb.BackoffMax,
		timeouts: map[models.Mode]time.Duration{
			models.ModeText:  timeouts.Text,
			models.ModeImage: timeouts.Image,
		},
		logger:   zap.NewNop(),
		observer: nopObserver{},
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ActionFor returns the configured action for a failure kind. A target that
// cannot serve the mode is always skipped.
func (d *Dispatcher) ActionFor(kind models.FailureKind) Action {
	if kind == models.KindUnsupported {
		return Switch
	}
	if a, ok := d.policy[kind]; ok {
		return a
	}
	return Switch
}

// Turn is the outcome of one user action: the answer and, when one was
// requested, its illustration.
type Turn struct {
	Answer       *models.Result
	Illustration *models.Result // nil unless requested and the answer succeeded
}

// Dispatch runs one request for sess. Expected failures come back as a
// Result carrying a Failure; the error return is reserved for
// misconfiguration such as an empty chain.
//
// The whole check-throttle, read-cache, call, write-cache sequence runs
// under the session lock.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, chain []models.Target, prompt *models.Prompt, mode models.Mode) (*models.Result, error) {
	turn, err := d.dispatch(ctx, sess, chain, prompt, mode, false)
	if err != nil {
		return nil, err
	}
	return turn.Answer, nil
}

// DispatchTurn answers prompt in text mode and, when illustrate is set and
// the answer succeeded, requests a companion image for the same question.
// Both run under one throttle acceptance: the user acted once, so the
// cooldown is stamped once. A failed illustration never fails the answer.
func (d *Dispatcher) DispatchTurn(ctx context.Context, sess *session.Session, chain []models.Target, prompt *models.Prompt, illustrate bool) (*Turn, error) {
	return d.dispatch(ctx, sess, chain, prompt, models.ModeText, illustrate)
}

func (d *Dispatcher) dispatch(ctx context.Context, sess *session.Session, chain []models.Target, prompt *models.Prompt, mode models.Mode, illustrate bool) (*Turn, error) {
	if len(chain) == 0 {
		return nil, models.ErrEmptyChain
	}
	start := d.now()

	if reason := Validate(prompt, mode); reason != "" {
		return &Turn{Answer: d.finish(mode, start, models.Failed(models.KindInvalidInput, reason))}, nil
	}

	sess.Lock()
	defer sess.Unlock()

	now := d.now()
	if decision := sess.Throttle.Check(now); !decision.Allowed {
		res := models.Failed(models.KindThrottled, decision.Reason)
		res.Failure.RetryAfter = decision.RetryAfter
		return &Turn{Answer: d.finish(mode, start, res)}, nil
	}
	sess.Throttle.Accept(now)

	turn := &Turn{Answer: d.finish(mode, start, d.serve(ctx, sess, chain, prompt, mode))}

	if illustrate && turn.Answer.OK() {
		// The picture depends on the question alone, not on prior turns.
		question := &models.Prompt{Text: prompt.Text, Image: prompt.Image}
		imageStart := d.now()
		turn.Illustration = d.finish(models.ModeImage, imageStart, d.serve(ctx, sess, chain, question, models.ModeImage))
	}
	return turn, nil
}

// serve answers from the session cache or walks the chain. The caller holds
// the session lock and has already passed the throttle.
func (d *Dispatcher) serve(ctx context.Context, sess *session.Session, chain []models.Target, prompt *models.Prompt, mode models.Mode) *models.Result {
	key := router.GenerateCacheKey(chain[0].ServiceTarget, prompt, mode)
	if sess.Cache != nil {
		cached, err := sess.Cache.Get(ctx, key)
		if err != nil {
			d.logger.Warn("cache read failed", zap.String("session", sess.ID), zap.Error(err))
		} else if cached != nil {
			res := models.Succeeded(cached)
			res.CacheHit = true
			return res
		}
	}
	return d.run(ctx, sess, chain, prompt, mode, key)
}

// run walks the chain: Idle -> Trying(i) -> Succeeded | TryingNext | Exhausted.
// Every delayed step, retry or backoff, spends one unit of the dispatch-wide
// retry budget and doubles the next delay.
func (d *Dispatcher) run(ctx context.Context, sess *session.Session, chain []models.Target, prompt *models.Prompt, mode models.Mode, key string) *models.Result {
	var attempts []models.Attempt
	retriesLeft := d.maxRetries
	delays := 0

	wait := func() *models.Result {
		retriesLeft--
		err := d.sleep(ctx, d.backoff(delays))
		delays++
		if err != nil {
			res := models.Failed(models.KindCanceled, "request was abandoned during backoff")
			res.Attempts = attempts
			return res
		}
		return nil
	}

	for i, target := range chain {
		for {
			if err := ctx.Err(); err != nil {
				res := models.Failed(models.KindCanceled, "request was abandoned before "+target.Name+" was tried")
				res.Attempts = attempts
				return res
			}

			completion, attempt := d.call(ctx, target, prompt, mode)
			attempts = append(attempts, attempt)

			if completion != nil {
				sess.Throttle.Record()
				if sess.Cache != nil {
					if err := sess.Cache.Set(context.WithoutCancel(ctx), key, completion); err != nil {
						d.logger.Warn("cache write failed", zap.String("session", sess.ID), zap.Error(err))
					}
				}
				res := models.Succeeded(completion)
				res.Attempts = attempts
				return res
			}

			action := d.ActionFor(attempt.Kind)
			last := i == len(chain)-1

			if action == Retry && retriesLeft > 0 {
				if res := wait(); res != nil {
					return res
				}
				continue
			}
			if action == Backoff && !last && retriesLeft > 0 {
				if res := wait(); res != nil {
					return res
				}
			}
			break
		}
	}

	lastAttempt := attempts[len(attempts)-1]
	res := models.Failed(models.KindAllTargetsExhausted, lastAttempt.Target+": "+lastAttempt.Message)
	res.Failure.Cause = lastAttempt.Kind
	res.Attempts = attempts
	return res
}

// call performs one network attempt. The caller's cancellation does not
// reach the in-flight request: it runs to completion or to the per-mode
// timeout so the connection is always cleaned up.
func (d *Dispatcher) call(ctx context.Context, target models.Target, prompt *models.Prompt, mode models.Mode) (*models.Completion, models.Attempt) {
	callCtx := context.WithoutCancel(ctx)
	if timeout := d.timeouts[mode]; timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		defer cancel()
	}

	start := d.now()
	completion, err := target.Client.Generate(callCtx, prompt, mode)
	latency := d.now().Sub(start)

	attempt := models.Attempt{Target: target.Name, Latency: latency}

	if err == nil && completion == nil {
		err = models.NewTargetError(models.KindMalformedResponse, 0, "adapter returned no completion", nil)
	}
	if err != nil {
		attempt.Kind = models.ClassifyError(err)
		attempt.Status = models.StatusOf(err)
		attempt.Message = err.Error()
		d.observer.ObserveAttempt(target.Name, mode, attempt.Kind, latency)
		d.logger.Warn("target attempt failed",
			zap.String("target", target.Name),
			zap.String("model", target.Model),
			zap.String("mode", string(mode)),
			zap.String("kind", string(attempt.Kind)),
			zap.Int("status", attempt.Status),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, attempt
	}

	out := *completion
	out.Target = target.Name
	if out.Mode == "" {
		out.Mode = mode
	}

	d.observer.ObserveAttempt(target.Name, mode, "", latency)
	d.logger.Debug("target attempt succeeded",
		zap.String("target", target.Name),
		zap.String("mode", string(mode)),
		zap.Duration("latency", latency),
	)
	return &out, attempt
}

// backoff returns base * 2^n capped at the configured maximum.
func (d *Dispatcher) backoff(n int) time.Duration {
	if d.backoffBase <= 0 {
		return 0
	}
	delay := d.backoffBase
	for i := 0; i < n; i++ {
		delay *= 2
		if d.backoffMax > 0 && delay >= d.backoffMax {
			return d.backoffMax
		}
	}
	if d.backoffMax > 0 && delay > d.backoffMax {
		return d.backoffMax
	}
	return delay
}

func (d *Dispatcher) finish(mode models.Mode, start time.Time, res *models.Result) *models.Result {
	res.Timestamp = d.now()
	res.Latency = res.Timestamp.Sub(start)

	outcome := OutcomeSuccess
	switch {
	case res.Failure != nil:
		outcome = string(res.Failure.Kind)
	case res.CacheHit:
		outcome = OutcomeCacheHit
	}
	d.observer.ObserveDispatch(mode, outcome, res.Latency)
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
