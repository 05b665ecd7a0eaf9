package session

// ArtifactType classifies worker outputs.
type ArtifactType string

const (
	ArtifactOutline ArtifactType = "outline"
	ArtifactImage   ArtifactType = "image"
	ArtifactReport  ArtifactType = "report"
	ArtifactPlan    ArtifactType = "plan"
)

// Artifact is a versioned worker output. Content is opaque to the
// supervisor; only the producing worker and the reviewer interpret it.
type Artifact struct {
	ID      string
	Type    ArtifactType
	Title   string
	Content []byte
	Version int
}

func (a Artifact) clone() Artifact {
	content := make([]byte, len(a.Content))
	copy(content, a.Content)
	a.Content = content
	return a
}

// AnchorOrigin records how the session's style anchor was obtained.
type AnchorOrigin string

const (
	AnchorExplicitStyle AnchorOrigin = "explicit_style"
	AnchorFirstSlide    AnchorOrigin = "first_slide_fallback"
	AnchorReused        AnchorOrigin = "reused_from_prior_session"
)

// AnchorRef is the single reference image every image-generation call
// in a session is conditioned on. At most one exists per session; once
// set it is read-only until an explicit restyle clears it.
type AnchorRef struct {
	ID     string
	Origin AnchorOrigin
	Image  []byte
}
