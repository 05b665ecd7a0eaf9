// Package session holds the in-memory state for one plan execution:
// the issued plan, produced artifacts, retry counters, the style anchor
// and the append-only event history. All mutation funnels through the
// supervisor's control loop; workers only ever see snapshots.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/akira/slidesmith/internal/plan"
)

// ErrAnchorSet is returned when something tries to replace an anchor
// without an explicit restyle.
var ErrAnchorSet = errors.New("session: style anchor already set")

// State owns everything the supervisor needs to drive one session.
type State struct {
	ID        string
	Objective string

	// DeckID keys the produced deck across sessions; edit-mode sessions
	// point PriorDeckID at the deck they are revising.
	DeckID      string
	PriorDeckID string
	EditMode    bool

	mu        sync.Mutex
	plan      plan.Plan
	stepIndex int
	artifacts map[string]Artifact
	retries   map[int]int
	feedback  map[int][]string
	replanned map[int]bool
	replans   int
	anchor    *AnchorRef
	history   []Event
}

// Option customizes a new session.
type Option func(*State)

// WithEditMode opens the session against a prior deck so its recorded
// anchor and seeds can be reused.
func WithEditMode(priorDeckID string) Option {
	return func(s *State) {
		s.EditMode = true
		s.PriorDeckID = priorDeckID
	}
}

// WithDeckID pins the deck identity instead of generating one.
func WithDeckID(deckID string) Option {
	return func(s *State) { s.DeckID = deckID }
}

// New creates session state for an issued plan.
func New(objective string, p plan.Plan, opts ...Option) *State {
	s := &State{
		ID:        uuid.NewString(),
		Objective: objective,
		DeckID:    uuid.NewString(),
		plan:      p.Clone(),
		artifacts: map[string]Artifact{},
		retries:   map[int]int{},
		feedback:  map[int][]string{},
		replanned: map[int]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Plan returns a copy of the currently issued plan.
func (s *State) Plan() plan.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan.Clone()
}

// StepIndex returns the current step cursor.
func (s *State) StepIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepIndex
}

// CurrentStep returns the step at the cursor, or false past the end.
func (s *State) CurrentStep() (plan.Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stepIndex >= len(s.plan.Steps) {
		return plan.Step{}, false
	}
	return s.plan.Steps[s.stepIndex], true
}

// Advance moves the cursor to the next step.
func (s *State) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepIndex++
}

// Commit stores a candidate artifact, assigning version 1 or the next
// version if an artifact with that id already exists. Versions only
// ever increase; replacement content always gets a fresh version.
func (s *State) Commit(a Artifact) Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.artifacts[a.ID]; ok {
		a.Version = prev.Version + 1
	} else {
		a.Version = 1
	}
	s.artifacts[a.ID] = a.clone()
	return a
}

// Snapshot returns a deep copy of the artifact map for workers and the
// reviewer. Mutating the snapshot never touches session state.
func (s *State) Snapshot() map[string]Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Artifact, len(s.artifacts))
	for id, a := range s.artifacts {
		out[id] = a.clone()
	}
	return out
}

// Artifact looks up a committed artifact by id.
func (s *State) Artifact(id string) (Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return Artifact{}, false
	}
	return a.clone(), true
}

// BumpRetry increments and returns the retry counter for a step.
func (s *State) BumpRetry(stepID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[stepID]++
	return s.retries[stepID]
}

// ResetRetry zeroes a step's retry counter after approval.
func (s *State) ResetRetry(stepID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[stepID] = 0
}

// Retries returns the current retry count for a step.
func (s *State) Retries(stepID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries[stepID]
}

// AddFeedback records reviewer feedback for a step. Feedback is
// appended, never substituted, so retries keep the full critique trail.
func (s *State) AddFeedback(stepID int, feedback string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[stepID] = append(s.feedback[stepID], feedback)
}

// Feedback returns the accumulated feedback for a step.
func (s *State) Feedback(stepID int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.feedback[stepID]))
	copy(out, s.feedback[stepID])
	return out
}

// MarkReplanned records the single allowed replan for a step id and
// reports whether it was still available.
func (s *State) MarkReplanned(stepID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replanned[stepID] {
		return false
	}
	s.replanned[stepID] = true
	s.replans++
	return true
}

// ReplanCount returns how many replans this session has consumed.
func (s *State) ReplanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replans
}

// SplicePlan replaces the unexecuted tail with a new partial plan.
func (s *State) SplicePlan(tail []plan.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.plan.Splice(s.stepIndex, tail)
	if err != nil {
		return err
	}
	s.plan = next
	return nil
}

// SetAnchor installs the session's style anchor. It fails once an
// anchor exists; restyle must clear it first.
func (s *State) SetAnchor(ref AnchorRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anchor != nil {
		return ErrAnchorSet
	}
	copyRef := ref
	copyRef.Image = append([]byte(nil), ref.Image...)
	s.anchor = &copyRef
	return nil
}

// Anchor returns the current anchor, if set.
func (s *State) Anchor() (AnchorRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anchor == nil {
		return AnchorRef{}, false
	}
	ref := *s.anchor
	ref.Image = append([]byte(nil), s.anchor.Image...)
	return ref, true
}

// ClearAnchor removes the anchor as part of an explicit restyle.
func (s *State) ClearAnchor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor = nil
}

// Append adds an event to the session history.
func (s *State) Append(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
}

// History returns a copy of the ordered event log for replay.
func (s *State) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.history))
	copy(out, s.history)
	return out
}

// Reset discards artifacts, counters, anchor and history while keeping
// identity and plan, for an explicit session reset.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepIndex = 0
	s.artifacts = map[string]Artifact{}
	s.retries = map[int]int{}
	s.feedback = map[int][]string{}
	s.replanned = map[int]bool{}
	s.replans = 0
	s.anchor = nil
	s.history = nil
}
