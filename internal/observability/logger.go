package observability

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePlan      EventType = "plan"
	EventTypeStep      EventType = "step"
	EventTypeReview    EventType = "review"
	EventTypeAnchor    EventType = "anchor"
	EventTypePolicy    EventType = "policy_check"
	EventTypeLLM       EventType = "llm"
	EventTypeHeartbeat EventType = "heartbeat"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	StepID    int       `json:"step_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging.
type Logger struct {
	llmLogPath string
	maxSize    int64
}

func NewLogger() *Logger {
	return &Logger{
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// Log emits a structured JSON event to stdout.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Printf("{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Println(string(data))

	if evt.Type == EventTypeLLM {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogStep(sessionID string, stepID int, kind, detail string) {
	if l == nil {
		return
	}
	l.Log(Event{
		Type:      EventTypeStep,
		SessionID: sessionID,
		StepID:    stepID,
		Data: map[string]string{
			"kind":   kind,
			"detail": detail,
		},
	})
}

func (l *Logger) LogReview(sessionID string, stepID int, approved bool, score float64, feedback string) {
	if l == nil {
		return
	}
	l.Log(Event{
		Type:      EventTypeReview,
		SessionID: sessionID,
		StepID:    stepID,
		Data: map[string]any{
			"approved": approved,
			"score":    score,
			"feedback": feedback,
		},
	})
}

func (l *Logger) LogAnchor(sessionID, origin, anchorID string) {
	if l == nil {
		return
	}
	l.Log(Event{
		Type:      EventTypeAnchor,
		SessionID: sessionID,
		Data: map[string]string{
			"origin":    origin,
			"anchor_id": anchorID,
		},
	})
}

func (l *Logger) LogPolicy(sessionID, tool, effect, reason string) {
	if l == nil {
		return
	}
	l.Log(Event{
		Type:      EventTypePolicy,
		SessionID: sessionID,
		Data: map[string]string{
			"tool":   tool,
			"effect": effect,
			"reason": reason,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	if l == nil {
		return
	}
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(sessionID string, stepID int, prompt any, response string) {
	if l == nil {
		return
	}
	l.Log(Event{
		Type:      EventTypeLLM,
		SessionID: sessionID,
		StepID:    stepID,
		Data: map[string]any{
			"prompt":   prompt,
			"response": response,
		},
	})
}
