package modelport

import (
	"context"
	"encoding/json"
)

// CallLogger receives every model invocation for the audit trail.
// observability.Logger satisfies it.
type CallLogger interface {
	LogLLM(sessionID string, stepID int, prompt any, response string)
}

type loggedPort struct {
	inner Port
	log   CallLogger
}

// WithLogging wraps a port so every call, including failures, lands in
// the LLM audit log.
func WithLogging(p Port, log CallLogger) Port {
	if log == nil {
		return p
	}
	return &loggedPort{inner: p, log: log}
}

func (l *loggedPort) GenerateStructured(ctx context.Context, spec PromptSpec) (json.RawMessage, error) {
	raw, err := l.inner.GenerateStructured(ctx, spec)
	if err != nil {
		l.log.LogLLM("", 0, spec.Prompt, "error: "+err.Error())
		return nil, err
	}
	l.log.LogLLM("", 0, spec.Prompt, string(raw))
	return raw, nil
}

func (l *loggedPort) GenerateImage(ctx context.Context, spec ImageSpec) ([]byte, error) {
	img, err := l.inner.GenerateImage(ctx, spec)
	if err != nil {
		l.log.LogLLM("", 0, spec.Prompt, "error: "+err.Error())
		return nil, err
	}
	l.log.LogLLM("", 0, spec.Prompt, "image bytes elided")
	return img, nil
}
