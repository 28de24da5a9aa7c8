package worker

import (
	"context"
	"log/slog"

	audit "examtrack/pkg/platform/audit"
)

// Worker drains audit events from the publisher inbox into the store and,
// when configured, an external sink. Store failures stop the worker (the
// local trail is authoritative); sink failures are logged and skipped.
type Worker struct {
	store  audit.Store
	sink   audit.Sink
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// WithSink attaches an external sink (Kafka) to the worker.
func (w *Worker) WithSink(sink audit.Sink) *Worker {
	w.sink = sink
	return w
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				return err
			}
			if w.sink == nil {
				continue
			}
			if err := w.sink.Publish(ctx, event); err != nil {
				w.logger.WarnContext(ctx, "audit sink publish failed",
					"action", event.Action,
					"error", err,
				)
			}
		}
	}
}
