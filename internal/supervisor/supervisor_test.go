package supervisor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/akira/slidesmith/internal/modelport"
	"github.com/akira/slidesmith/internal/observability"
	"github.com/akira/slidesmith/internal/plan"
	"github.com/akira/slidesmith/internal/review"
	"github.com/akira/slidesmith/internal/session"
	"github.com/akira/slidesmith/internal/worker"
)

// fakeProducer returns a fresh artifact per call, or scripted errors.
type fakeProducer struct {
	role  plan.Role
	calls int
	errs  []error // consumed per call; nil entries mean success
}

func (f *fakeProducer) Role() plan.Role { return f.role }

func (f *fakeProducer) Produce(ctx context.Context, req worker.Request) (session.Artifact, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return session.Artifact{}, err
		}
	}
	return session.Artifact{
		ID:      fmt.Sprintf("step-%d-out", req.Step.ID),
		Type:    session.ArtifactOutline,
		Title:   req.Step.Instruction,
		Content: []byte(fmt.Sprintf("attempt %d, feedback %d", f.calls, len(req.Feedback))),
	}, nil
}

// scriptedReviewer replays verdicts in call order, then approves. It
// records the artifact snapshot each review saw.
type scriptedReviewer struct {
	verdicts  []review.Output
	calls     int
	snapshots []map[string]session.Artifact
}

func (r *scriptedReviewer) Review(ctx context.Context, step plan.Step, a session.Artifact, artifacts map[string]session.Artifact) (review.Output, error) {
	r.calls++
	r.snapshots = append(r.snapshots, artifacts)
	if len(r.verdicts) > 0 {
		v := r.verdicts[0]
		r.verdicts = r.verdicts[1:]
		return v, nil
	}
	return review.Output{Approved: true, Score: 1, Feedback: "fine"}, nil
}

// fakePlanner returns a canned tail.
type fakePlanner struct {
	tail  []plan.Step
	calls int
}

func (p *fakePlanner) Replan(ctx context.Context, req plan.ReplanRequest) ([]plan.Step, error) {
	p.calls++
	return p.tail, nil
}

func reject(feedback string) review.Output {
	return review.Output{Approved: false, Score: 0.1, Feedback: feedback}
}

func approve() review.Output {
	return review.Output{Approved: true, Score: 0.9, Feedback: "good"}
}

func newTestSupervisor(t *testing.T, producers []worker.Producer, r review.Reviewer, p plan.Planner) *Supervisor {
	t.Helper()
	d, err := worker.NewDispatcher(producers...)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMultiplier: 2, MaxBackoff: time.Millisecond}
	s := New(d, r, p, observability.NewLogger(), cfg)
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return s
}

func eventTypes(events []session.Event) []session.EventType {
	out := make([]session.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestRun_HappyPathVisitsEveryStepOnce(t *testing.T) {
	sw := &fakeProducer{role: plan.RoleStorywriter}
	vz := &fakeProducer{role: plan.RoleVisualizer}
	reviewer := &scriptedReviewer{}
	sup := newTestSupervisor(t, []worker.Producer{sw, vz}, reviewer, &fakePlanner{})

	sess := session.New("bees deck", plan.Plan{Steps: []plan.Step{
		{ID: 1, Role: plan.RoleStorywriter, Instruction: "outline"},
		{ID: 2, Role: plan.RoleVisualizer, Instruction: "draw"},
	}})
	if err := sup.Run(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	if sw.calls != 1 || vz.calls != 1 {
		t.Errorf("producer calls = %d, %d; want 1, 1", sw.calls, vz.calls)
	}
	artifacts := sess.Snapshot()
	if len(artifacts) != 2 {
		t.Fatalf("committed %d artifacts, want 2", len(artifacts))
	}
	for id, a := range artifacts {
		if a.Version != 1 {
			t.Errorf("%s version = %d, want 1", id, a.Version)
		}
	}
	history := sess.History()
	last := history[len(history)-1]
	if last.Type != session.EventSessionDone {
		t.Errorf("final event = %s, want session_done", last.Type)
	}

	// The second step's review sees the first step's committed artifact.
	if len(reviewer.snapshots) != 2 {
		t.Fatalf("reviewer saw %d snapshots, want 2", len(reviewer.snapshots))
	}
	if len(reviewer.snapshots[0]) != 0 {
		t.Errorf("first review saw %d artifacts, want 0", len(reviewer.snapshots[0]))
	}
	if _, ok := reviewer.snapshots[1]["step-1-out"]; !ok {
		t.Errorf("second review did not see the committed outline: %v", reviewer.snapshots[1])
	}
}

func TestRun_RejectionsCarryFeedbackThenApprove(t *testing.T) {
	vz := &fakeProducer{role: plan.RoleVisualizer}
	reviewer := &scriptedReviewer{verdicts: []review.Output{
		reject("text contrast too low"),
		reject("still muddy"),
		approve(),
	}}
	sup := newTestSupervisor(t, []worker.Producer{vz}, reviewer, &fakePlanner{})

	sess := session.New("x", plan.Plan{Steps: []plan.Step{
		{ID: 1, Role: plan.RoleVisualizer, Instruction: "draw"},
	}})
	if err := sup.Run(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	if vz.calls != 3 {
		t.Errorf("producer calls = %d, want 3", vz.calls)
	}
	a, _ := sess.Artifact("step-1-out")
	if a.Version != 1 {
		t.Errorf("final artifact version = %d, want 1 (first commit)", a.Version)
	}
	if sess.Retries(1) != 0 {
		t.Errorf("retry counter after approval = %d, want 0", sess.Retries(1))
	}

	rejected := 0
	for _, e := range sess.History() {
		if e.Type == session.EventStepRejected {
			rejected++
			if e.Feedback == "" {
				t.Error("rejection event lost its feedback")
			}
		}
	}
	if rejected != 2 {
		t.Errorf("step_rejected events = %d, want 2", rejected)
	}
}

// The exact lifecycle sequence for [storywriter, visualizer] with the
// second step rejected twice before approval.
func TestRun_EventSequence(t *testing.T) {
	sw := &fakeProducer{role: plan.RoleStorywriter}
	vz := &fakeProducer{role: plan.RoleVisualizer}
	reviewer := &scriptedReviewer{verdicts: []review.Output{
		approve(),
		reject("text contrast too low"),
		reject("text contrast too low"),
		approve(),
	}}
	sup := newTestSupervisor(t, []worker.Producer{sw, vz}, reviewer, &fakePlanner{})

	sess := session.New("x", plan.Plan{Steps: []plan.Step{
		{ID: 1, Role: plan.RoleStorywriter, Instruction: "outline"},
		{ID: 2, Role: plan.RoleVisualizer, Instruction: "draw"},
	}})
	if err := sup.Run(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	want := []session.EventType{
		session.EventStepStarted,  // 1
		session.EventStepApproved, // 1, v1
		session.EventStepStarted,  // 2
		session.EventStepRejected, // 2, retry 1
		session.EventStepStarted,  // 2
		session.EventStepRejected, // 2, retry 2
		session.EventStepStarted,  // 2
		session.EventStepApproved, // 2, v1
		session.EventSessionDone,
	}
	got := eventTypes(sess.History())
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}

	history := sess.History()
	if history[1].Version != 1 || history[7].Version != 1 {
		t.Error("approval events should carry version 1")
	}
	if history[3].RetryCount != 1 || history[5].RetryCount != 2 {
		t.Errorf("retry counts = %d, %d; want 1, 2", history[3].RetryCount, history[5].RetryCount)
	}
}

func TestRun_ExhaustionTriggersOneReplanThenFails(t *testing.T) {
	vz := &fakeProducer{role: plan.RoleVisualizer}
	// Six rejections: three exhaust the original step, three exhaust
	// the replanned one.
	reviewer := &scriptedReviewer{verdicts: []review.Output{
		reject("bad"), reject("bad"), reject("bad"),
		reject("worse"), reject("worse"), reject("worse"),
	}}
	planner := &fakePlanner{tail: []plan.Step{
		{ID: 2, Role: plan.RoleVisualizer, Instruction: "draw simpler"},
	}}
	sup := newTestSupervisor(t, []worker.Producer{vz}, reviewer, planner)

	sess := session.New("x", plan.Plan{Steps: []plan.Step{
		{ID: 1, Role: plan.RoleVisualizer, Instruction: "draw"},
	}})
	err := sup.Run(context.Background(), sess)
	var exhausted *ReplanExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ReplanExhaustedError, got %v", err)
	}
	if exhausted.StepID != 2 {
		t.Errorf("failing step = %d, want the replanned step 2", exhausted.StepID)
	}
	if planner.calls != 1 {
		t.Errorf("planner calls = %d, want 1", planner.calls)
	}

	replans, failed := 0, 0
	for _, e := range sess.History() {
		switch e.Type {
		case session.EventReplanning:
			replans++
		case session.EventSessionFailed:
			failed++
		}
	}
	if replans != 1 {
		t.Errorf("replanning events = %d, want 1", replans)
	}
	if failed != 1 {
		t.Errorf("session_failed events = %d, want 1", failed)
	}
	// The replanned step actually ran.
	step, ok := sess.CurrentStep()
	if !ok || step.Instruction != "draw simpler" {
		t.Errorf("current step = %+v", step)
	}
}

func TestRun_ReplanDisabledFailsOnExhaustion(t *testing.T) {
	vz := &fakeProducer{role: plan.RoleVisualizer}
	reviewer := &scriptedReviewer{verdicts: []review.Output{
		reject("bad"), reject("bad"), reject("bad"),
	}}
	planner := &fakePlanner{tail: []plan.Step{{ID: 2, Role: plan.RoleVisualizer, Instruction: "again"}}}
	sup := newTestSupervisor(t, []worker.Producer{vz}, reviewer, planner)
	sup.Config.ReplanEnabled = false

	sess := session.New("x", plan.Plan{Steps: []plan.Step{
		{ID: 1, Role: plan.RoleVisualizer, Instruction: "draw"},
	}})
	if err := sup.Run(context.Background(), sess); err == nil {
		t.Fatal("expected failure with replanning disabled")
	}
	if planner.calls != 0 {
		t.Errorf("planner called %d times with replanning disabled", planner.calls)
	}
}

func TestRun_TransientErrorsRetriedWithBackoff(t *testing.T) {
	sw := &fakeProducer{
		role: plan.RoleStorywriter,
		errs: []error{
			modelport.Transient("generate", errors.New("503")),
			modelport.Transient("generate", errors.New("503")),
			nil,
		},
	}
	sup := newTestSupervisor(t, []worker.Producer{sw}, &scriptedReviewer{}, &fakePlanner{})

	var slept []time.Duration
	sup.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	sess := session.New("x", plan.Plan{Steps: []plan.Step{
		{ID: 1, Role: plan.RoleStorywriter, Instruction: "outline"},
	}})
	if err := sup.Run(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	if sw.calls != 3 {
		t.Errorf("producer calls = %d, want 3", sw.calls)
	}
	if len(slept) != 2 {
		t.Errorf("backoff sleeps = %d, want 2", len(slept))
	}
}

func TestRun_TransientExhaustionFailsSession(t *testing.T) {
	sw := &fakeProducer{
		role: plan.RoleStorywriter,
		errs: []error{
			modelport.Transient("generate", errors.New("down")),
			modelport.Transient("generate", errors.New("down")),
			modelport.Transient("generate", errors.New("down")),
		},
	}
	sup := newTestSupervisor(t, []worker.Producer{sw}, &scriptedReviewer{}, &fakePlanner{})

	sess := session.New("x", plan.Plan{Steps: []plan.Step{
		{ID: 1, Role: plan.RoleStorywriter, Instruction: "outline"},
	}})
	err := sup.Run(context.Background(), sess)
	if err == nil {
		t.Fatal("expected failure after transient exhaustion")
	}
	history := sess.History()
	last := history[len(history)-1]
	if last.Type != session.EventSessionFailed || last.Cause == "" {
		t.Errorf("final event = %+v, want session_failed with cause", last)
	}
}

func TestRun_ConfigErrorIsFatalImmediately(t *testing.T) {
	sw := &fakeProducer{role: plan.RoleStorywriter}
	sup := newTestSupervisor(t, []worker.Producer{sw}, &scriptedReviewer{}, &fakePlanner{})

	// The plan names a role the dispatcher does not serve; ingestion
	// validation would normally catch this, the supervisor must too.
	sess := session.New("x", plan.Plan{Steps: []plan.Step{
		{ID: 1, Role: plan.RoleVisualizer, Instruction: "draw"},
	}})
	err := sup.Run(context.Background(), sess)
	var cfgErr *plan.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestRun_CancellationStopsAtSuspensionBoundary(t *testing.T) {
	sw := &fakeProducer{role: plan.RoleStorywriter}
	sup := newTestSupervisor(t, []worker.Producer{sw}, &scriptedReviewer{}, &fakePlanner{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sess := session.New("x", plan.Plan{Steps: []plan.Step{
		{ID: 1, Role: plan.RoleStorywriter, Instruction: "outline"},
	}})
	if err := sup.Run(ctx, sess); err == nil {
		t.Fatal("expected canceled session to fail")
	}
	if sw.calls != 0 {
		t.Errorf("producer ran %d times after cancellation", sw.calls)
	}
}

// An event sink failure must never fail the session.
type failingSink struct{ calls int }

func (f *failingSink) Emit(sessionID string, e session.Event) error {
	f.calls++
	return errors.New("disk full")
}

func TestRun_SinkErrorsAreNotFatal(t *testing.T) {
	sw := &fakeProducer{role: plan.RoleStorywriter}
	sup := newTestSupervisor(t, []worker.Producer{sw}, &scriptedReviewer{}, &fakePlanner{})
	sink := &failingSink{}
	sup.Sinks = []EventSink{sink}

	sess := session.New("x", plan.Plan{Steps: []plan.Step{
		{ID: 1, Role: plan.RoleStorywriter, Instruction: "outline"},
	}})
	if err := sup.Run(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	if sink.calls == 0 {
		t.Error("sink never received events")
	}
}
