package session

import (
	"testing"

	"github.com/akira/slidesmith/internal/plan"
)

func testPlan() plan.Plan {
	return plan.Plan{Steps: []plan.Step{
		{ID: 1, Role: plan.RoleStorywriter, Instruction: "outline"},
		{ID: 2, Role: plan.RoleVisualizer, Instruction: "draw"},
	}}
}

func TestCommit_VersionsIncrement(t *testing.T) {
	s := New("deck about bees", testPlan())

	first := s.Commit(Artifact{ID: "step-1-outline", Type: ArtifactOutline, Content: []byte("v1")})
	if first.Version != 1 {
		t.Fatalf("first commit version = %d, want 1", first.Version)
	}
	second := s.Commit(Artifact{ID: "step-1-outline", Type: ArtifactOutline, Content: []byte("v2")})
	if second.Version != 2 {
		t.Fatalf("replacement version = %d, want 2", second.Version)
	}
	got, ok := s.Artifact("step-1-outline")
	if !ok || string(got.Content) != "v2" {
		t.Fatalf("stored artifact = %+v", got)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := New("x", testPlan())
	s.Commit(Artifact{ID: "a", Content: []byte("original")})

	snap := s.Snapshot()
	snap["a"].Content[0] = 'X'
	delete(snap, "a")

	got, ok := s.Artifact("a")
	if !ok || string(got.Content) != "original" {
		t.Fatalf("snapshot mutation leaked into session state: %q", got.Content)
	}
}

func TestRetryCounters(t *testing.T) {
	s := New("x", testPlan())
	if n := s.BumpRetry(2); n != 1 {
		t.Fatalf("first bump = %d, want 1", n)
	}
	if n := s.BumpRetry(2); n != 2 {
		t.Fatalf("second bump = %d, want 2", n)
	}
	s.ResetRetry(2)
	if n := s.Retries(2); n != 0 {
		t.Fatalf("after reset = %d, want 0", n)
	}
}

func TestFeedback_Appends(t *testing.T) {
	s := New("x", testPlan())
	s.AddFeedback(1, "too vague")
	s.AddFeedback(1, "still too vague")
	fb := s.Feedback(1)
	if len(fb) != 2 || fb[0] != "too vague" || fb[1] != "still too vague" {
		t.Fatalf("feedback trail = %v", fb)
	}
}

func TestMarkReplanned_OncePerStep(t *testing.T) {
	s := New("x", testPlan())
	if !s.MarkReplanned(1) {
		t.Fatal("first replan for step 1 should be allowed")
	}
	if s.MarkReplanned(1) {
		t.Fatal("second replan for step 1 should be refused")
	}
	if !s.MarkReplanned(2) {
		t.Fatal("replan for a different step should be allowed")
	}
	if s.ReplanCount() != 2 {
		t.Fatalf("ReplanCount = %d, want 2", s.ReplanCount())
	}
}

func TestAnchor_SetOnceUntilCleared(t *testing.T) {
	s := New("x", testPlan())
	if _, ok := s.Anchor(); ok {
		t.Fatal("fresh session should have no anchor")
	}
	ref := AnchorRef{ID: "a1", Origin: AnchorFirstSlide, Image: []byte{1, 2, 3}}
	if err := s.SetAnchor(ref); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAnchor(AnchorRef{ID: "a2"}); err != ErrAnchorSet {
		t.Fatalf("second SetAnchor error = %v, want ErrAnchorSet", err)
	}

	got, ok := s.Anchor()
	if !ok || got.ID != "a1" || got.Origin != AnchorFirstSlide {
		t.Fatalf("anchor = %+v", got)
	}
	got.Image[0] = 99
	again, _ := s.Anchor()
	if again.Image[0] != 1 {
		t.Fatal("anchor image escaped by reference")
	}

	s.ClearAnchor()
	if err := s.SetAnchor(AnchorRef{ID: "a2", Origin: AnchorExplicitStyle}); err != nil {
		t.Fatalf("SetAnchor after restyle clear: %v", err)
	}
}

func TestSplicePlan_AdvancesFromCursor(t *testing.T) {
	s := New("x", testPlan())
	s.Advance() // step 1 done, cursor at step 2

	err := s.SplicePlan([]plan.Step{
		{ID: 3, Role: plan.RoleVisualizer, Instruction: "draw differently"},
	})
	if err != nil {
		t.Fatal(err)
	}
	step, ok := s.CurrentStep()
	if !ok || step.ID != 3 {
		t.Fatalf("current step after splice = %+v", step)
	}
	if got := s.Plan(); len(got.Steps) != 2 || got.Steps[0].ID != 1 {
		t.Fatalf("plan after splice = %+v", got)
	}
}

func TestReset_KeepsIdentity(t *testing.T) {
	s := New("x", testPlan(), WithDeckID("deck-9"))
	s.Commit(Artifact{ID: "a"})
	s.Advance()
	s.Append(StepStarted(1))
	s.Reset()

	if s.DeckID != "deck-9" {
		t.Error("reset dropped deck identity")
	}
	if s.StepIndex() != 0 || len(s.Snapshot()) != 0 || len(s.History()) != 0 {
		t.Error("reset left state behind")
	}
}
