// Package verification issues and checks the one-time codes that prove a
// promoter controls the email address they registered with.
//
// Codes are stored hashed, expire after a short TTL, and are throttled two
// ways: a resend cooldown bounds how often a new code can be requested, and
// an attempt counter bounds how many guesses a single code survives.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"examtrack/internal/email"
	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
	emailutil "examtrack/pkg/email"
	"examtrack/pkg/platform/sentinel"
)

// CodeStore persists hashed verification codes with their throttling state.
type CodeStore interface {
	// Save stores a new code hash, resetting the attempt counter and
	// starting the resend cooldown.
	Save(ctx context.Context, sessionID id.SessionID, codeHash string, ttl, cooldown time.Duration) error
	// Lookup returns the stored hash, or sentinel.ErrNotFound when no live
	// code exists for the session.
	Lookup(ctx context.Context, sessionID id.SessionID) (string, error)
	InCooldown(ctx context.Context, sessionID id.SessionID) (bool, error)
	// RecordAttempt increments and returns the guess counter for the live code.
	RecordAttempt(ctx context.Context, sessionID id.SessionID) (int, error)
	Clear(ctx context.Context, sessionID id.SessionID) error
}

// Policy bounds code lifetime and abuse.
type Policy struct {
	CodeTTL        time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
}

func DefaultPolicy() Policy {
	return Policy{
		CodeTTL:        10 * time.Minute,
		ResendCooldown: 60 * time.Second,
		MaxAttempts:    5,
	}
}

const codeLength = 6

// Service issues and verifies email codes.
type Service struct {
	codes    CodeStore
	sender   email.Sender
	policy   Policy
	logger   *slog.Logger
	generate func() (string, error)
}

type Option func(*Service)

func WithPolicy(p Policy) Option {
	return func(s *Service) {
		if p.CodeTTL > 0 {
			s.policy.CodeTTL = p.CodeTTL
		}
		if p.ResendCooldown > 0 {
			s.policy.ResendCooldown = p.ResendCooldown
		}
		if p.MaxAttempts > 0 {
			s.policy.MaxAttempts = p.MaxAttempts
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCodeGenerator overrides code generation. Test hook.
func WithCodeGenerator(generate func() (string, error)) Option {
	return func(s *Service) {
		if generate != nil {
			s.generate = generate
		}
	}
}

func NewService(codes CodeStore, sender email.Sender, opts ...Option) *Service {
	s := &Service{
		codes:    codes,
		sender:   sender,
		policy:   DefaultPolicy(),
		logger:   slog.Default(),
		generate: generateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendCode issues a fresh code for the session and emails it to the
// promoter. A previously issued code is superseded.
func (s *Service) SendCode(ctx context.Context, sessionID id.SessionID, address, name string) error {
	if address == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "session has no email address to verify")
	}

	throttled, err := s.codes.InCooldown(ctx, sessionID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "verification code lookup failed")
	}
	if throttled {
		return dErrors.New(dErrors.CodeTooManyRequests, "a verification code was sent recently, wait before requesting another")
	}

	code, err := s.generate()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "verification code generation failed")
	}

	if err := s.codes.Save(ctx, sessionID, hashCode(code), s.policy.CodeTTL, s.policy.ResendCooldown); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "verification code storage failed")
	}

	msg := email.Message{
		To:      address,
		ToName:  name,
		Subject: "Your ExamTrack verification code",
		Text: fmt.Sprintf(
			"Your verification code is %s. It expires in %d minutes.",
			code, int(s.policy.CodeTTL.Minutes()),
		),
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "verification code sent",
		"session_id", sessionID.String(),
		"email", emailutil.Mask(address),
	)
	return nil
}

// Verify checks the submitted code against the stored hash and consumes it
// on success.
func (s *Service) Verify(ctx context.Context, sessionID id.SessionID, code string) error {
	stored, err := s.codes.Lookup(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeBadRequest, "no active verification code, request a new one")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "verification code lookup failed")
	}

	attempts, err := s.codes.RecordAttempt(ctx, sessionID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "verification attempt tracking failed")
	}
	if attempts > s.policy.MaxAttempts {
		_ = s.codes.Clear(ctx, sessionID)
		return dErrors.New(dErrors.CodeTooManyRequests, "too many verification attempts, request a new code")
	}

	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(stored)) != 1 {
		return dErrors.New(dErrors.CodeValidation, "incorrect verification code")
	}

	if err := s.codes.Clear(ctx, sessionID); err != nil {
		s.logger.WarnContext(ctx, "verification code cleanup failed",
			"session_id", sessionID.String(),
			"error", err,
		)
	}
	return nil
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeLength, n), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
