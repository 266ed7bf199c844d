package plan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Intelligent-Internet/ii-agent/internal/tracing"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Status is the lifecycle state of a plan.
type Status string

const (
	StatusPlanning   Status = "planning"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
)

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanning, StatusReady, StatusInProgress, StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// ErrPlanNotFound is returned when a plan id does not exist.
var ErrPlanNotFound = errors.New("plan not found")

// Step is one entry of a plan's ordered step list. The store never interprets
// step semantics; descriptions and step statuses are opaque to it.
type Step struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Plan is a named, checkpointed multi-step unit of work.
type Plan struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	Steps     []Step    `json:"steps,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition is one recorded status change.
type Transition struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	At   time.Time `json:"at"`
}

// Store persists plans in sqlite so long-running work survives process
// restarts.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS plan_steps (
	plan_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	PRIMARY KEY (plan_id, idx)
);
CREATE TABLE IF NOT EXISTS plan_transitions (
	plan_id TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plan_transitions_plan ON plan_transitions(plan_id);
`

// Open opens (creating if necessary) the plan database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("plan database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create plan database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize plan schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Plan store opened")

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new plan in the planning state.
func (s *Store) Create(ctx context.Context, title string) (*Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "plan", "plan.create")
	defer span.End()

	if title == "" {
		return nil, fmt.Errorf("plan title is required")
	}

	now := time.Now().UTC()
	p := &Plan{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    StatusPlanning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plans (id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Title, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert plan: %w", err)
	}

	s.logger.Info().Str("plan_id", p.ID).Str("title", title).Msg("Plan created")
	return p, nil
}

// Get loads a plan and its steps by id.
func (s *Store) Get(ctx context.Context, id string) (*Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "plan", "plan.get",
		attribute.String("plan_id", id))
	defer span.End()

	p := &Plan{}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, status, created_at, updated_at FROM plans WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	p.Status = Status(status)

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, description, status FROM plan_steps WHERE plan_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step Step
		if err := rows.Scan(&step.Index, &step.Description, &step.Status); err != nil {
			return nil, fmt.Errorf("failed to scan plan step: %w", err)
		}
		p.Steps = append(p.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plan steps: %w", err)
	}

	return p, nil
}

// Status reads only the lifecycle state of a plan.
func (s *Store) Status(ctx context.Context, id string) (Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM plans WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrPlanNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read plan status: %w", err)
	}
	return Status(status), nil
}

// Transition appends a status transition and updates the plan. The
// transition log is append-only.
func (s *Store) Transition(ctx context.Context, id string, to Status) error {
	ctx, span := tracing.StartSpan(ctx, "plan", "plan.transition",
		attribute.String("plan_id", id),
		attribute.String("to", string(to)))
	defer span.End()

	if !to.Valid() {
		return fmt.Errorf("invalid plan status: %s", to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var from string
	err = tx.QueryRowContext(ctx, `SELECT status FROM plans WHERE id = ?`, id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPlanNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read plan status: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO plan_transitions (plan_id, from_status, to_status, at) VALUES (?, ?, ?, ?)`,
		id, from, string(to), now,
	); err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE plans SET status = ?, updated_at = ? WHERE id = ?`,
		string(to), now, id,
	); err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	s.logger.Info().
		Str("plan_id", id).
		Str("from", from).
		Str("to", string(to)).
		Msg("Plan status transition")

	return nil
}

// SetSteps replaces the ordered step list of a plan.
func (s *Store) SetSteps(ctx context.Context, id string, steps []Step) error {
	if _, err := s.Status(ctx, id); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_steps WHERE plan_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear plan steps: %w", err)
	}

	for i, step := range steps {
		status := step.Status
		if status == "" {
			status = "pending"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO plan_steps (plan_id, idx, description, status) VALUES (?, ?, ?, ?)`,
			id, i, step.Description, status,
		); err != nil {
			return fmt.Errorf("failed to insert plan step: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE plans SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("failed to touch plan: %w", err)
	}

	return tx.Commit()
}

// Transitions returns the append-only status history of a plan.
func (s *Store) Transitions(ctx context.Context, id string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_status, to_status, at FROM plan_transitions WHERE plan_id = ? ORDER BY at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var tr Transition
		var from, to string
		if err := rows.Scan(&from, &to, &tr.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		tr.From = Status(from)
		tr.To = Status(to)
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

// List returns all plans ordered by creation time, newest first.
func (s *Store) List(ctx context.Context) ([]*Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, status, created_at, updated_at FROM plans ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p := &Plan{}
		var status string
		if err := rows.Scan(&p.ID, &p.Title, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		p.Status = Status(status)
		plans = append(plans, p)
	}
	return plans, rows.Err()
}
