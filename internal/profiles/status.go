package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Condition mirrors the declarative-config convention for readiness
// reporting: one typed condition with a transition timestamp.
type Condition struct {
	Type               string    `json:"type"`
	Status             string    `json:"status"`
	Reason             string    `json:"reason,omitempty"`
	Message            string    `json:"message,omitempty"`
	LastTransitionTime time.Time `json:"lastTransitionTime"`
}

// Status is the externally visible construction state of one agent.
type Status struct {
	Phase      string      `json:"phase"`
	Conditions []Condition `json:"conditions"`
}

const (
	PhaseReady  = "Ready"
	PhaseFailed = "Failed"
)

// StatusSink records agent construction outcomes for external observers.
// Implementations must tolerate repeated reports.
type StatusSink interface {
	Report(ctx context.Context, agent string, status Status) error
}

// NewStatus builds a Status with a single Ready condition.
func NewStatus(ready bool, reason, message string) Status {
	phase := PhaseReady
	condStatus := "True"
	if !ready {
		phase = PhaseFailed
		condStatus = "False"
	}
	return Status{
		Phase: phase,
		Conditions: []Condition{{
			Type:               "Ready",
			Status:             condStatus,
			Reason:             reason,
			Message:            message,
			LastTransitionTime: time.Now().UTC(),
		}},
	}
}

// Reporter deduplicates status updates: the sink is only called when an
// agent's phase or reason actually changes. Sink failures are logged and
// never retried; status reporting must not block agent construction.
type Reporter struct {
	sink   StatusSink
	logger *slog.Logger

	mu   sync.Mutex
	last map[string]string
}

// NewReporter wraps a sink with transition-only semantics. A nil sink
// produces a reporter that only logs.
func NewReporter(sink StatusSink, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		sink:   sink,
		logger: logger.With("component", "status"),
		last:   make(map[string]string),
	}
}

// Report records the construction outcome for one agent.
func (r *Reporter) Report(ctx context.Context, agent string, ready bool, reason, message string) {
	status := NewStatus(ready, reason, message)
	key := status.Phase + "/" + reason

	r.mu.Lock()
	unchanged := r.last[agent] == key
	r.last[agent] = key
	r.mu.Unlock()
	if unchanged {
		return
	}

	r.logger.Info("agent status transition",
		"agent", agent, "phase", status.Phase, "reason", reason, "message", message)

	if r.sink == nil {
		return
	}
	if err := r.sink.Report(ctx, agent, status); err != nil {
		r.logger.Error("status report failed", "agent", agent, "error", err)
	}
}

// FileStatusSink writes one JSON status document per agent into a directory,
// next to where operators keep the profile documents.
type FileStatusSink struct {
	dir string
}

// NewFileStatusSink creates the sink, making dir if needed.
func NewFileStatusSink(dir string) (*FileStatusSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create status dir: %w", err)
	}
	return &FileStatusSink{dir: dir}, nil
}

func (s *FileStatusSink) Report(_ context.Context, agent string, status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, agent+".status.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
