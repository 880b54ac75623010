package webhooks

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratedly",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal)
}

// Emitter wraps a Dispatcher with emit-side metrics and logging. It is
// what the upgrade engine is wired to: a nil *Emitter is a no-op, so
// callers never need to guard against webhooks being disabled.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

// Notify records the emit and hands the event to the dispatcher.
func (e *Emitter) Notify(ctx context.Context, eventType string, payload map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(eventType).Inc()
	e.logger.Debug("emitting webhook event", "event", eventType)
	e.d.Notify(ctx, eventType, payload)
}
