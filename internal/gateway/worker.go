package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/encorelabs/arbiterd/internal/domain"
)

// EvidenceCompleteChannel is the bus channel carrying evidence-completion
// events. Each payload is an evidenceEvent JSON document.
const EvidenceCompleteChannel = "arbiter.evidence.complete"

type evidenceEvent struct {
	DisputeID uint64 `json:"dispute_id"`
}

// Worker consumes evidence-completion events and drives the gateway's
// decision flow for each. One worker instance per deployment; the
// per-dispute lock in HandleDispute covers accidental doubles.
type Worker struct {
	gateway *Gateway
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewWorker creates a Worker over the given bus.
func NewWorker(gateway *Gateway, bus domain.SignalBus, logger *slog.Logger) *Worker {
	return &Worker{
		gateway: gateway,
		bus:     bus,
		logger:  logger.With(slog.String("component", "gateway_worker")),
	}
}

// Run subscribes to evidence-completion events and processes them until the
// context is cancelled. Per-dispute failures are logged and skipped; only a
// broken subscription ends the loop.
func (w *Worker) Run(ctx context.Context) error {
	events, err := w.bus.Subscribe(ctx, EvidenceCompleteChannel)
	if err != nil {
		return err
	}
	w.logger.Info("gateway worker started")
	defer w.logger.Info("gateway worker stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			w.process(ctx, payload)
		}
	}
}

func (w *Worker) process(ctx context.Context, payload []byte) {
	var ev evidenceEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		w.logger.Warn("malformed evidence event", slog.String("payload", string(payload)))
		return
	}

	summary, err := w.gateway.HandleDispute(ctx, ev.DisputeID)
	if err != nil {
		// Another instance already decided, or the event raced the
		// submission. Not a worker failure.
		if errors.Is(err, domain.ErrDecisionIssued) {
			w.logger.Info("decision already issued", slog.Uint64("dispute_id", ev.DisputeID))
			return
		}
		w.logger.Error("handle dispute failed",
			slog.Uint64("dispute_id", ev.DisputeID),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.InfoContext(ctx, "dispute handled",
		slog.Uint64("dispute_id", summary.DisputeID),
		slog.String("resolution", string(summary.Resolution)),
	)
}
