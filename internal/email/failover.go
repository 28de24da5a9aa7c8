package email

import (
	"context"
	"log/slog"

	"examtrack/pkg/platform/circuit"
)

// FailoverSender guards a primary provider with a circuit breaker. While the
// circuit is open, messages go to the fallback so verification codes keep
// reaching the log trail instead of queueing against a dead provider.
type FailoverSender struct {
	primary  Sender
	fallback Sender
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewFailoverSender(primary, fallback Sender, breaker *circuit.Breaker, logger *slog.Logger) *FailoverSender {
	if breaker == nil {
		breaker = circuit.New("email")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverSender{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (s *FailoverSender) Send(ctx context.Context, msg Message) error {
	if !s.breaker.Allow() {
		return s.fallback.Send(ctx, msg)
	}

	err := s.primary.Send(ctx, msg)
	if err == nil {
		s.breaker.RecordSuccess()
		return nil
	}

	if opened := s.breaker.RecordFailure(); opened {
		s.logger.WarnContext(ctx, "email provider circuit opened",
			"provider", s.breaker.Name(),
			"error", err,
		)
	}
	return s.fallback.Send(ctx, msg)
}
