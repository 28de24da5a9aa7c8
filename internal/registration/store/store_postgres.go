package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"examtrack/internal/registration/models"
	id "examtrack/pkg/domain"
	"examtrack/pkg/platform/sentinel"
)

// Postgres persists sessions in a single table with JSONB sub-records.
// The aggregate is always written whole, which keeps last-write-wins
// semantics identical to the in-memory store.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS registration_sessions (
    id           UUID PRIMARY KEY,
    promoter     JSONB,
    school       JSONB,
    plan         JSONB,
    payment      JSONB,
    status       TEXT NOT NULL,
    current_step TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS registration_sessions_subdomain_idx
    ON registration_sessions ((lower(school->>'subdomain')))
    WHERE status <> 'cancelled';
CREATE INDEX IF NOT EXISTS registration_sessions_email_idx
    ON registration_sessions ((lower(promoter->>'email')))
    WHERE status <> 'cancelled';
`

// EnsureSchema creates the sessions table and supporting indexes.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure registration schema: %w", err)
	}
	return nil
}

func (s *Postgres) Create(ctx context.Context, session *models.Session) error {
	row, err := toRow(session)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO registration_sessions
		    (id, promoter, school, plan, payment, status, current_step, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.id, row.promoter, row.school, row.plan, row.payment,
		row.status, row.currentStep, row.createdAt, row.updatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	var (
		session  models.Session
		rawID    string
		status   string
		step     string
		promoter []byte
		school   []byte
		plan     []byte
		payment  []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, promoter, school, plan, payment, status, current_step, created_at, updated_at
		FROM registration_sessions
		WHERE id = $1`, sessionID.String(),
	).Scan(&rawID, &promoter, &school, &plan, &payment, &status, &step, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}

	session.ID, err = id.ParseSessionID(rawID)
	if err != nil {
		return nil, fmt.Errorf("corrupt session id %q: %w", rawID, err)
	}
	session.Status = models.Status(status)
	session.CurrentStep = models.Step(step)
	var storedPromoter *promoterRecord
	if err := unmarshalInto(promoter, &storedPromoter); err != nil {
		return nil, err
	}
	session.Promoter = storedPromoter.toModel()
	if err := unmarshalInto(school, &session.School); err != nil {
		return nil, err
	}
	if err := unmarshalInto(plan, &session.Plan); err != nil {
		return nil, err
	}
	if err := unmarshalInto(payment, &session.Payment); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Postgres) Update(ctx context.Context, session *models.Session) error {
	row, err := toRow(session)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE registration_sessions
		SET promoter = $2, school = $3, plan = $4, payment = $5,
		    status = $6, current_step = $7, updated_at = $8
		WHERE id = $1`,
		row.id, row.promoter, row.school, row.plan, row.payment,
		row.status, row.currentStep, row.updatedAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) SubdomainInUse(ctx context.Context, subdomain string, exclude id.SessionID) (bool, error) {
	// The nil session ID never matches a row, so it acts as "no exclusion".
	return s.exists(ctx, `
		SELECT EXISTS (
		    SELECT 1 FROM registration_sessions
		    WHERE status <> 'cancelled' AND lower(school->>'subdomain') = $1 AND id <> $2
		)`, strings.ToLower(subdomain), exclude.String())
}

func (s *Postgres) EmailInUse(ctx context.Context, address string, exclude id.SessionID) (bool, error) {
	return s.exists(ctx, `
		SELECT EXISTS (
		    SELECT 1 FROM registration_sessions
		    WHERE status <> 'cancelled' AND lower(promoter->>'email') = $1 AND id <> $2
		)`, strings.ToLower(address), exclude.String())
}

func (s *Postgres) exists(ctx context.Context, query string, value, exclude string) (bool, error) {
	var found bool
	if err := s.pool.QueryRow(ctx, query, value, exclude).Scan(&found); err != nil {
		return false, fmt.Errorf("availability lookup: %w", err)
	}
	return found, nil
}

type sessionRow struct {
	id          string
	promoter    []byte
	school      []byte
	plan        []byte
	payment     []byte
	status      string
	currentStep string
	createdAt   any
	updatedAt   any
}

func toRow(session *models.Session) (sessionRow, error) {
	row := sessionRow{
		id:          session.ID.String(),
		status:      string(session.Status),
		currentStep: string(session.CurrentStep),
		createdAt:   session.CreatedAt,
		updatedAt:   session.UpdatedAt,
	}
	var err error
	if row.promoter, err = marshalOrNil(fromModelPromoter(session.Promoter)); err != nil {
		return row, err
	}
	if row.school, err = marshalOrNil(session.School); err != nil {
		return row, err
	}
	if row.plan, err = marshalOrNil(session.Plan); err != nil {
		return row, err
	}
	if row.payment, err = marshalOrNil(session.Payment); err != nil {
		return row, err
	}
	return row, nil
}

// promoterRecord is the storage shape for the promoter sub-record. It
// exists because models.Promoter hides PasswordHash from JSON responses,
// while the store must round-trip it.
type promoterRecord struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	PasswordHash  string `json:"password_hash,omitempty"`
}

func fromModelPromoter(p *models.Promoter) *promoterRecord {
	if p == nil {
		return nil
	}
	return &promoterRecord{
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Phone:         p.Phone,
		PasswordHash:  p.PasswordHash,
	}
}

func (r *promoterRecord) toModel() *models.Promoter {
	if r == nil {
		return nil
	}
	return &models.Promoter{
		Email:         r.Email,
		EmailVerified: r.EmailVerified,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Phone:         r.Phone,
		PasswordHash:  r.PasswordHash,
	}
}

func marshalOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal session sub-record: %w", err)
	}
	return b, nil
}

func unmarshalInto[T any](raw []byte, dst **T) error {
	if len(raw) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal session sub-record: %w", err)
	}
	*dst = &v
	return nil
}
