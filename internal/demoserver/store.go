package demoserver

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/capwatch/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

var ErrJobNotFound = errors.New("job not found")

// Store persists simulated jobs and their findings in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore runs the schema against db.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, capability, target, priority, status, progress, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Capability), job.Target, job.Priority, string(job.Status),
		job.Progress, job.Error, job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var (
		job                  model.Job
		capability, status   string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, capability, target, priority, status, progress, error, created_at, updated_at
		FROM jobs WHERE id = ?`, id).
		Scan(&job.ID, &capability, &job.Target, &job.Priority, &status, &job.Progress, &job.Error, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	job.Capability = model.Capability(capability)
	job.Status = model.JobStatus(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &job, nil
}

// UpdateJob records a status transition.
func (s *Store) UpdateJob(ctx context.Context, id string, status model.JobStatus, progress float64, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), progress, errMsg, time.Now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *Store) AddFinding(ctx context.Context, jobID string, seq int, f model.Finding) error {
	evidence, err := json.Marshal(f.Evidence)
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	recs, err := json.Marshal(f.Recommendations)
	if err != nil {
		return fmt.Errorf("encode recommendations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO findings (id, job_id, seq, severity, title, description, evidence, recommendations, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, jobID, seq, string(f.Severity), f.Title, f.Description, string(evidence), string(recs), f.DiscoveredAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

// ListFindings returns the findings of jobID in discovery order.
func (s *Store) ListFindings(ctx context.Context, jobID string) ([]model.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, severity, title, description, evidence, recommendations, discovered_at
		FROM findings WHERE job_id = ? ORDER BY seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select findings: %w", err)
	}
	defer rows.Close()

	fs := []model.Finding{}
	for rows.Next() {
		var (
			f                       model.Finding
			severity, evidence, rec string
			discoveredAt            int64
		)
		if err := rows.Scan(&f.ID, &severity, &f.Title, &f.Description, &evidence, &rec, &discoveredAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Severity = model.Severity(severity)
		f.DiscoveredAt = time.Unix(0, discoveredAt).UTC()
		if err := json.Unmarshal([]byte(evidence), &f.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
		if err := json.Unmarshal([]byte(rec), &f.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
		fs = append(fs, f)
	}
	return fs, rows.Err()
}
