// Package consistency keeps every generated slide image visually
// coherent within a session. The first image produced becomes the
// session's style anchor and every later call passes it as a
// reference, so a deck reads as one designer's work rather than a
// collage.
package consistency

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/akira/slidesmith/internal/modelport"
	"github.com/akira/slidesmith/internal/observability"
	"github.com/akira/slidesmith/internal/session"
	"github.com/google/uuid"
)

// AnchorStore persists anchors across sessions keyed by deck id, so a
// deep edit of an existing deck can reuse the original style instead
// of inventing a new one.
type AnchorStore interface {
	LookupAnchor(deckID string) (session.AnchorRef, bool, error)
	SaveAnchor(deckID string, ref session.AnchorRef) error
}

// SlideSpec describes one image to generate.
type SlideSpec struct {
	Index  int
	Prompt string
	// StyleHint, when set on the first slide generated, promotes an
	// explicit style description to the anchor instead of the
	// first-slide fallback.
	StyleHint string
}

// Signature records how an image was produced so a later restyle can
// regenerate it with the same composition under a new anchor.
type Signature struct {
	Seed       int64  `json:"seed"`
	BasePrompt string `json:"base_prompt"`
	AnchorID   string `json:"anchor_id"`
}

// SlideResult is one generated image plus its reproduction signature.
type SlideResult struct {
	Index     int
	Image     []byte
	Signature Signature
}

// Engine serializes anchor resolution and fans slide generation out
// across a bounded worker pool. One Engine serves one session.
type Engine struct {
	Port        modelport.Port
	Store       AnchorStore
	Logger      *observability.Logger
	Concurrency int
	AspectRatio string

	mu         sync.Mutex // gates anchor resolution
	pending    map[int]SlideResult
	signatures map[int]Signature
	sigMu      sync.Mutex
}

func NewEngine(port modelport.Port, store AnchorStore, logger *observability.Logger) *Engine {
	return &Engine{
		Port:        port,
		Store:       store,
		Logger:      logger,
		Concurrency: 5,
		AspectRatio: "16:9",
		pending:     make(map[int]SlideResult),
		signatures:  make(map[int]Signature),
	}
}

// GenerateSlide produces one slide image. The first call in a session
// resolves the anchor; every call afterwards reuses it as a reference
// image. Anchor resolution order: a prior deck's anchor in edit mode,
// then an explicit style hint, then the first slide itself.
func (e *Engine) GenerateSlide(ctx context.Context, sess *session.State, spec SlideSpec) (SlideResult, error) {
	anchor, err := e.ensureAnchor(ctx, sess, spec)
	if err != nil {
		return SlideResult{}, err
	}

	// The first-slide fallback already produced this slide's image
	// while creating the anchor.
	if res, ok := e.takePending(spec.Index); ok {
		e.record(res.Index, res.Signature)
		return res, nil
	}

	seed := e.seedFor(sess, spec)
	img, err := e.Port.GenerateImage(ctx, modelport.ImageSpec{
		Prompt:      spec.Prompt,
		Seed:        &seed,
		Reference:   anchor.Image,
		AspectRatio: e.AspectRatio,
	})
	if err != nil {
		return SlideResult{}, err
	}

	res := SlideResult{
		Index: spec.Index,
		Image: img,
		Signature: Signature{
			Seed:       seed,
			BasePrompt: spec.Prompt,
			AnchorID:   anchor.ID,
		},
	}
	e.record(res.Index, res.Signature)
	return res, nil
}

// RegenerateAll produces every slide concurrently, bounded by
// Concurrency. The anchor is resolved up front so the pool never races
// on it. Results come back in spec order; the first error cancels the
// remaining work.
func (e *Engine) RegenerateAll(ctx context.Context, sess *session.State, specs []SlideSpec) ([]SlideResult, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	if _, err := e.ensureAnchor(ctx, sess, specs[0]); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limit := e.Concurrency
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	results := make([]SlideResult, len(specs))
	errs := make(chan error, len(specs))
	var wg sync.WaitGroup

	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec SlideSpec) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			res, err := e.GenerateSlide(ctx, sess, spec)
			if err != nil {
				errs <- fmt.Errorf("slide %d: %w", spec.Index, err)
				cancel()
				return
			}
			results[i] = res
		}(i, spec)
	}
	wg.Wait()

	select {
	case err := <-errs:
		return nil, err
	default:
	}
	return results, nil
}

// Restyle discards the current anchor and regenerates every recorded
// slide under a new style hint. Recorded seeds are reused so each
// slide keeps its composition while the look changes.
func (e *Engine) Restyle(ctx context.Context, sess *session.State, styleHint string) ([]SlideResult, error) {
	sess.ClearAnchor()

	e.sigMu.Lock()
	specs := make([]SlideSpec, 0, len(e.signatures))
	for idx, sig := range e.signatures {
		specs = append(specs, SlideSpec{Index: idx, Prompt: sig.BasePrompt})
	}
	e.sigMu.Unlock()
	if len(specs) == 0 {
		return nil, fmt.Errorf("restyle: no slides generated yet")
	}
	// Stable order so the lowest index seeds the new anchor.
	sortSpecs(specs)
	specs[0].StyleHint = styleHint
	return e.RegenerateAll(ctx, sess, specs)
}

// ensureAnchor resolves the session anchor exactly once. Callers that
// lose the race simply read the anchor the winner installed.
func (e *Engine) ensureAnchor(ctx context.Context, sess *session.State, spec SlideSpec) (session.AnchorRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ref, ok := sess.Anchor(); ok {
		return ref, nil
	}

	// Prior deck reuse wins over everything else.
	if sess.EditMode && sess.PriorDeckID != "" && e.Store != nil {
		ref, ok, err := e.Store.LookupAnchor(sess.PriorDeckID)
		if err != nil {
			return session.AnchorRef{}, fmt.Errorf("anchor lookup for deck %s: %w", sess.PriorDeckID, err)
		}
		if ok {
			ref.Origin = session.AnchorReused
			return e.install(sess, ref)
		}
	}

	if spec.StyleHint != "" {
		img, err := e.Port.GenerateImage(ctx, modelport.ImageSpec{
			Prompt:      anchorPrompt(spec.StyleHint),
			AspectRatio: e.AspectRatio,
		})
		if err != nil {
			return session.AnchorRef{}, err
		}
		return e.install(sess, session.AnchorRef{
			ID:     uuid.NewString(),
			Origin: session.AnchorExplicitStyle,
			Image:  img,
		})
	}

	// First-slide fallback: the slide is generated normally and its
	// image retroactively becomes the anchor; the slide result is kept
	// so it is not generated twice.
	seed := e.seedFor(sess, spec)
	img, err := e.Port.GenerateImage(ctx, modelport.ImageSpec{
		Prompt:      spec.Prompt,
		Seed:        &seed,
		AspectRatio: e.AspectRatio,
	})
	if err != nil {
		return session.AnchorRef{}, err
	}
	ref, err := e.install(sess, session.AnchorRef{
		ID:     uuid.NewString(),
		Origin: session.AnchorFirstSlide,
		Image:  img,
	})
	if err != nil {
		return session.AnchorRef{}, err
	}
	e.sigMu.Lock()
	e.pending[spec.Index] = SlideResult{
		Index: spec.Index,
		Image: img,
		Signature: Signature{
			Seed:       seed,
			BasePrompt: spec.Prompt,
			AnchorID:   ref.ID,
		},
	}
	e.sigMu.Unlock()
	return ref, nil
}

func (e *Engine) takePending(index int) (SlideResult, bool) {
	e.sigMu.Lock()
	defer e.sigMu.Unlock()
	res, ok := e.pending[index]
	if ok {
		delete(e.pending, index)
	}
	return res, ok
}

func (e *Engine) install(sess *session.State, ref session.AnchorRef) (session.AnchorRef, error) {
	if err := sess.SetAnchor(ref); err != nil {
		// Lost a race outside our own gate; use the installed anchor.
		if installed, ok := sess.Anchor(); ok {
			return installed, nil
		}
		return session.AnchorRef{}, err
	}
	e.Logger.LogAnchor(sess.ID, string(ref.Origin), ref.ID)
	if e.Store != nil && sess.DeckID != "" {
		if err := e.Store.SaveAnchor(sess.DeckID, ref); err != nil {
			return session.AnchorRef{}, fmt.Errorf("anchor save for deck %s: %w", sess.DeckID, err)
		}
	}
	return ref, nil
}

// seedFor reuses a recorded seed for the slide index when one exists,
// otherwise derives a stable one from the session and index.
func (e *Engine) seedFor(sess *session.State, spec SlideSpec) int64 {
	e.sigMu.Lock()
	defer e.sigMu.Unlock()
	if sig, ok := e.signatures[spec.Index]; ok {
		return sig.Seed
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%d", sess.ID, spec.Index)
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func (e *Engine) record(index int, sig Signature) {
	e.sigMu.Lock()
	e.signatures[index] = sig
	e.sigMu.Unlock()
}

func sortSpecs(specs []SlideSpec) {
	sort.Slice(specs, func(i, j int) bool { return specs[i].Index < specs[j].Index })
}

// anchorPrompt frames a style hint as a pure style reference: the
// anchor carries background, palette, lighting and composition only,
// never slide content or rendered text.
func anchorPrompt(styleHint string) string {
	return fmt.Sprintf("A style reference image for a slide deck: %s. "+
		"Depict only the visual style: background, color palette, lighting and composition. "+
		"No text, no words, no letters, no slide content.", styleHint)
}
