package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/autoposter/internal/trace"
	"github.com/mohammad-safakhou/autoposter/internal/workflow"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// InsertPost stores a published post. Re-inserting the same URN is a no-op.
func (s *Store) InsertPost(ctx context.Context, p workflow.PublishedPost) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO published_posts (post_urn, author_urn, author_name, author_title, author_profile_url, post_text, post_type, url, title, description, image_url, run_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (post_urn) DO NOTHING`,
		p.PostURN, p.AuthorURN, p.AuthorName, p.AuthorTitle, p.AuthorProfileURL, p.PostText, p.PostType,
		p.URL, p.Title, p.Description, p.ImageURL, p.RunID, createdAt)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// RecentPosts returns the newest posts first.
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]workflow.PublishedPost, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT post_urn, author_urn, author_name, author_title, author_profile_url, post_text, post_type, url, title, description, image_url, run_id, created_at
FROM published_posts
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent posts: %w", err)
	}
	defer rows.Close()
	var out []workflow.PublishedPost
	for rows.Next() {
		var p workflow.PublishedPost
		if err := rows.Scan(&p.PostURN, &p.AuthorURN, &p.AuthorName, &p.AuthorTitle, &p.AuthorProfileURL, &p.PostText, &p.PostType,
			&p.URL, &p.Title, &p.Description, &p.ImageURL, &p.RunID, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveModelCall implements trace.CallSink.
func (s *Store) SaveModelCall(ctx context.Context, rec trace.CallRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO model_calls (id, run_id, step_name, model, input, output, error, input_tokens, output_tokens, total_tokens, cost, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		id, rec.RunID, rec.StepName, rec.Model, rec.Input, rec.Output, rec.Error,
		rec.InputTokens, rec.OutputTokens, rec.TotalTokens, rec.Cost, rec.Duration.Milliseconds(), createdAt)
	if err != nil {
		return fmt.Errorf("save model call: %w", err)
	}
	return nil
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run is one execution of the workflow.
type Run struct {
	ID          string     `json:"id"`
	Trigger     string     `json:"trigger"`
	Topic       string     `json:"topic"`
	Status      string     `json:"status"`
	FailedStage string     `json:"failed_stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	PostURN     string     `json:"post_urn,omitempty"`
	Trace       string     `json:"trace,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RunOutcome is written when a run ends.
type RunOutcome struct {
	Status      string
	Topic       string
	FailedStage string
	Error       string
	PostURN     string
	Trace       string
}

func (s *Store) CreateRun(ctx context.Context, id, trigger, topic string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO workflow_runs (id, trigger, topic, status, started_at) VALUES ($1,$2,$3,$4,NOW())`,
		id, trigger, topic, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, id string, out RunOutcome) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE workflow_runs
SET status=$2, topic=COALESCE(NULLIF($3,''), topic), failed_stage=$4, error=$5, post_urn=$6, trace=$7, finished_at=NOW()
WHERE id=$1`, id, out.Status, out.Topic, out.FailedStage, out.Error, out.PostURN, out.Trace)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, trigger, topic, status, failed_stage, error, post_urn, trace, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var finished sql.NullTime
	if err := sc.Scan(&r.ID, &r.Trigger, &r.Topic, &r.Status, &r.FailedStage, &r.Error, &r.PostURN, &r.Trace, &r.StartedAt, &finished); err != nil {
		return Run{}, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRuns returns the newest runs first, without their traces.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM workflow_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		r.Trace = ""
		out = append(out, r)
	}
	return out, rows.Err()
}

// ModelCallTotals aggregates recorded model usage.
type ModelCallTotals struct {
	Model        string  `json:"model"`
	Calls        int64   `json:"calls"`
	Failures     int64   `json:"failures"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// ModelCallTotals sums model calls per model since the given time.
func (s *Store) ModelCallTotals(ctx context.Context, since time.Time) ([]ModelCallTotals, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT model, COUNT(*), COUNT(*) FILTER (WHERE error <> ''), COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0), COALESCE(SUM(cost),0)
FROM model_calls
WHERE created_at >= $1
GROUP BY model
ORDER BY model`, since)
	if err != nil {
		return nil, fmt.Errorf("model call totals: %w", err)
	}
	defer rows.Close()
	var out []ModelCallTotals
	for rows.Next() {
		var t ModelCallTotals
		if err := rows.Scan(&t.Model, &t.Calls, &t.Failures, &t.InputTokens, &t.OutputTokens, &t.Cost); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
