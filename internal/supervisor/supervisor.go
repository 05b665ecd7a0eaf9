// Package supervisor runs the session control loop: it walks the plan
// in order, dispatches each step to its producer, gates the result
// through the reviewer, and applies the retry and replanning policy
// until the session reaches DONE or FAILED.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akira/slidesmith/internal/modelport"
	"github.com/akira/slidesmith/internal/observability"
	"github.com/akira/slidesmith/internal/plan"
	"github.com/akira/slidesmith/internal/review"
	"github.com/akira/slidesmith/internal/session"
	"github.com/akira/slidesmith/internal/worker"
)

// Config controls the retry and replanning policy.
type Config struct {
	// MaxRetries is the quality-rejection budget per step before the
	// supervisor replans.
	MaxRetries int

	// MaxReplans caps replanning events per session.
	MaxReplans int

	// ReplanEnabled, when false, turns retry exhaustion directly into
	// session failure.
	ReplanEnabled bool

	// StepTimeout bounds every dispatch and review call. Zero means
	// no deadline.
	StepTimeout time.Duration

	// Retry governs backoff for transient model failures.
	Retry RetryConfig
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		MaxReplans:    3,
		ReplanEnabled: true,
		StepTimeout:   5 * time.Minute,
		Retry:         DefaultRetryConfig(),
	}
}

// EventSink receives lifecycle events as the supervisor emits them,
// in order. The session history gets every event regardless of sinks.
type EventSink interface {
	Emit(sessionID string, e session.Event) error
}

// ReplanExhaustedError is the terminal cause when a step still fails
// after its one allowed replanning.
type ReplanExhaustedError struct {
	StepID  int
	Retries int
	Replans int
	History []session.Event
}

func (e *ReplanExhaustedError) Error() string {
	return fmt.Sprintf("step %d failed after %d retries and %d replanning event(s)", e.StepID, e.Retries, e.Replans)
}

// Supervisor owns one session's traversal. It is the only component
// that advances the step index or commits artifacts.
type Supervisor struct {
	Dispatcher *worker.Dispatcher
	Reviewer   review.Reviewer
	Planner    plan.Planner
	Logger     *observability.Logger
	Sinks      []EventSink
	Config     Config

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(d *worker.Dispatcher, r review.Reviewer, p plan.Planner, logger *observability.Logger, cfg Config) *Supervisor {
	return &Supervisor{
		Dispatcher: d,
		Reviewer:   r,
		Planner:    p,
		Logger:     logger,
		Config:     cfg,
		sleep:      sleepCtx,
	}
}

// Run drives the session to a terminal state. It returns nil when the
// session is DONE and the terminal cause when it is FAILED; the
// session history carries the full event trail either way.
func (s *Supervisor) Run(ctx context.Context, sess *session.State) error {
	observability.SetStatus(observability.PhaseDispatch, "", 0)

	// Cleared by any approval; an exhaustion while set means the
	// replanned work failed too.
	justReplanned := false

	for {
		if err := ctx.Err(); err != nil {
			return s.fail(sess, fmt.Errorf("session canceled: %w", err))
		}

		step, ok := sess.CurrentStep()
		if !ok {
			s.emit(sess, session.SessionDone())
			observability.SetStatus(observability.PhaseDone, "", 0)
			s.Logger.LogStep(sess.ID, 0, "session_done", fmt.Sprintf("%d artifacts", len(sess.Snapshot())))
			return nil
		}

		observability.SetStatus(observability.PhaseDispatch, fmt.Sprintf("step %d (%s)", step.ID, step.Role), sess.Retries(step.ID))
		s.emit(sess, session.StepStarted(step.ID))
		s.Logger.LogStep(sess.ID, step.ID, "started", step.Instruction)

		candidate, err := s.dispatch(ctx, sess, step)
		if err != nil {
			return s.fail(sess, fmt.Errorf("step %d dispatch: %w", step.ID, err))
		}

		observability.SetStatus(observability.PhaseReview, fmt.Sprintf("step %d", step.ID), sess.Retries(step.ID))
		verdict, err := s.review(ctx, step, candidate, sess.Snapshot())
		if err != nil {
			return s.fail(sess, fmt.Errorf("step %d review: %w", step.ID, err))
		}
		s.Logger.LogReview(sess.ID, step.ID, verdict.Approved, verdict.Score, verdict.Feedback)

		if verdict.Approved {
			committed := sess.Commit(candidate)
			sess.ResetRetry(step.ID)
			sess.Advance()
			justReplanned = false
			s.emit(sess, session.StepApproved(step.ID, committed.ID, committed.Version))
			continue
		}

		// Quality rejection: feedback is appended to the step's trail
		// so the retry sees every prior complaint.
		count := sess.BumpRetry(step.ID)
		sess.AddFeedback(step.ID, verdict.Feedback)
		s.emit(sess, session.StepRejected(step.ID, count, verdict.Feedback))

		if count < s.Config.MaxRetries {
			continue
		}

		// Retry budget exhausted.
		if !s.Config.ReplanEnabled || s.Planner == nil {
			return s.fail(sess, fmt.Errorf("step %d rejected %d times, replanning disabled", step.ID, count))
		}
		if justReplanned || sess.ReplanCount() >= s.Config.MaxReplans || !sess.MarkReplanned(step.ID) {
			return s.fail(sess, &ReplanExhaustedError{
				StepID:  step.ID,
				Retries: count,
				Replans: sess.ReplanCount(),
				History: sess.History(),
			})
		}

		observability.SetStatus(observability.PhaseReplanning, fmt.Sprintf("step %d", step.ID), count)
		s.emit(sess, session.Replanning(step.ID))
		if err := s.replan(ctx, sess, step); err != nil {
			return s.fail(sess, fmt.Errorf("step %d replanning: %w", step.ID, err))
		}
		justReplanned = true
	}
}

// dispatch runs the producer with the step's feedback trail attached,
// retrying transient failures with backoff. Configuration errors pass
// through untouched so they stay fatal.
func (s *Supervisor) dispatch(ctx context.Context, sess *session.State, step plan.Step) (session.Artifact, error) {
	req := worker.Request{
		Step:      step,
		Artifacts: sess.Snapshot(),
		Feedback:  sess.Feedback(step.ID),
		SessionID: sess.ID,
	}
	var out session.Artifact
	err := s.withRetry(ctx, fmt.Sprintf("dispatch step %d", step.ID), func(callCtx context.Context) error {
		var err error
		out, err = s.Dispatcher.Dispatch(callCtx, req)
		return err
	})
	return out, err
}

func (s *Supervisor) review(ctx context.Context, step plan.Step, candidate session.Artifact, artifacts map[string]session.Artifact) (review.Output, error) {
	var out review.Output
	err := s.withRetry(ctx, fmt.Sprintf("review step %d", step.ID), func(callCtx context.Context) error {
		var err error
		out, err = s.Reviewer.Review(callCtx, step, candidate, artifacts)
		return err
	})
	return out, err
}

// replan asks the planner for a replacement tail and splices it over
// the unexecuted remainder of the plan.
func (s *Supervisor) replan(ctx context.Context, sess *session.State, failed plan.Step) error {
	executed := sess.Plan().Steps[:sess.StepIndex()]
	nextID := failed.ID
	for _, st := range executed {
		if st.ID >= nextID {
			nextID = st.ID + 1
		}
	}
	req := plan.ReplanRequest{
		Objective: sess.Objective,
		Failed:    failed,
		Feedback:  sess.Feedback(failed.ID),
		Executed:  executed,
		NextID:    nextID,
	}
	var tail []plan.Step
	err := s.withRetry(ctx, fmt.Sprintf("replan step %d", failed.ID), func(callCtx context.Context) error {
		var err error
		tail, err = s.Planner.Replan(callCtx, req)
		return err
	})
	if err != nil {
		return err
	}
	return sess.SplicePlan(tail)
}

// withRetry runs one suspending call under the step deadline,
// retrying transient failures with exponential backoff. A deadline
// expiry counts as transient; parent cancellation does not.
func (s *Supervisor) withRetry(ctx context.Context, op string, call func(context.Context) error) error {
	max := s.Config.Retry.MaxAttempts
	if max < 1 {
		max = 1
	}
	var last error
	for attempt := 1; attempt <= max; attempt++ {
		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if s.Config.StepTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.Config.StepTimeout)
		}
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if !retryable(err) {
			return err
		}
		last = err
		if attempt == max {
			break
		}
		wait := s.Config.Retry.backoff(attempt)
		s.Logger.LogStep("", 0, "transient_retry", fmt.Sprintf("%s: attempt %d failed, retrying in %s: %v", op, attempt, wait, err))
		if err := s.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: transient failures exhausted %d attempts: %w", op, max, last)
}

func retryable(err error) bool {
	if modelport.IsTransient(err) {
		return true
	}
	// A call-scoped deadline expiring is a transport failure.
	return errors.Is(err, context.DeadlineExceeded)
}

// fail records the terminal cause, emits session_failed, and returns
// the cause to the caller.
func (s *Supervisor) fail(sess *session.State, cause error) error {
	s.emit(sess, session.SessionFailed(cause.Error()))
	observability.SetStatus(observability.PhaseFailed, firstWords(cause.Error()), 0)
	s.Logger.LogStep(sess.ID, 0, "session_failed", cause.Error())
	return cause
}

// emit appends to the session history and fans out to every sink. A
// sink error is logged, never fatal: the history is the source of
// truth.
func (s *Supervisor) emit(sess *session.State, e session.Event) {
	sess.Append(e)
	for _, sink := range s.Sinks {
		if err := sink.Emit(sess.ID, e); err != nil {
			s.Logger.LogStep(sess.ID, e.StepID, "sink_error", err.Error())
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func firstWords(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:60]
	}
	return s
}
