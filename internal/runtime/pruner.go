package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shepherd-ai/shepherd/internal/observability"
	"github.com/shepherd-ai/shepherd/internal/sessions"
)

const pruneSweepTimeout = 30 * time.Second

// Pruner expires pending approvals that were never answered. An expired
// approval is resolved as a decline, so the suspended turn ends with the
// standard cancellation notice and the conversation unblocks.
type Pruner struct {
	runtime *Runtime
	store   sessions.Store
	ttl     time.Duration
	cron    *cron.Cron
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewPruner(rt *Runtime, store sessions.Store, ttl time.Duration, schedule string, metrics *observability.Metrics, logger *slog.Logger) (*Pruner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pruner{
		runtime: rt,
		store:   store,
		ttl:     ttl,
		cron:    cron.New(),
		metrics: metrics,
		logger:  logger.With("component", "pruner"),
	}
	if _, err := p.cron.AddFunc(schedule, p.sweep); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pruner) Start() { p.cron.Start() }

// Stop halts scheduling and waits for a running sweep to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Pruner) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneSweepTimeout)
	defer cancel()

	convs, err := p.store.ListSuspended(ctx)
	if err != nil {
		p.logger.Error("failed to list suspended conversations", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, conv := range convs {
		if conv.Suspension == nil || now.Sub(conv.Suspension.CreatedAt) < p.ttl {
			continue
		}
		p.expire(ctx, conv.ID, conv.Suspension.Token)
	}
}

func (p *Pruner) expire(ctx context.Context, conversationID, token string) {
	// Anything but "yes" declines, so the normal resume path handles
	// expiry end to end.
	_, err := p.runtime.HandleApproval(ctx, conversationID, token, "expired")
	if err != nil {
		p.logger.Error("failed to expire pending approval",
			"conversation_id", conversationID,
			"error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.Approvals.WithLabelValues("expired").Inc()
	}
	p.logger.Info("pending approval expired",
		"conversation_id", conversationID,
		"ttl", p.ttl)
}
