package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hearthd/hearth/internal/storage"
)

// SQLiteStore persists jobs as a keyed set and runs as an append-only log.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	spec, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, owner_id, spec, created_at) VALUES (?, ?, ?, ?)`,
		job.ID, job.OwnerID, string(spec), job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, job *Job) error {
	spec, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET spec = ? WHERE id = ?`, string(spec), job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("delete job runs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	var spec string
	err := s.db.QueryRowContext(ctx, `SELECT spec FROM jobs WHERE id = ?`, id).Scan(&spec)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return decodeJob(spec)
}

func (s *SQLiteStore) List(ctx context.Context, ownerID string) ([]*Job, error) {
	query := `SELECT spec FROM jobs ORDER BY created_at, id`
	args := []any{}
	if ownerID != "" {
		query = `SELECT spec FROM jobs WHERE owner_id = ? ORDER BY created_at, id`
		args = append(args, ownerID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		var spec string
		if err := rows.Scan(&spec); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job, err := decodeJob(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (job_id, ts, status, error) VALUES (?, ?, ?, ?)`,
		run.JobID, run.At, string(run.Status), run.Error)
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Runs(ctx context.Context, jobID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, status, error FROM job_runs WHERE job_id = ? ORDER BY ts DESC, id DESC LIMIT ?`,
		jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run := &Run{JobID: jobID}
		var status string
		var errText sql.NullString
		if err := rows.Scan(&run.At, &status, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = RunStatus(status)
		run.Error = errText.String
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LastRun(ctx context.Context, jobID string) (*Run, error) {
	runs, err := s.Runs(ctx, jobID, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

func decodeJob(spec string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(spec), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// MemoryStore keeps jobs and runs in memory, for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	runs map[string][]*Run
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		runs: make(map[string][]*Run),
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return storage.ErrAlreadyExists
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		return storage.ErrNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; !exists {
		return storage.ErrNotFound
	}
	delete(s.jobs, id)
	delete(s.runs, id)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) List(ctx context.Context, ownerID string) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if ownerID != "" && job.OwnerID != ownerID {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.runs[run.JobID] = append(s.runs[run.JobID], &copied)
	return nil
}

func (s *MemoryStore) Runs(ctx context.Context, jobID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.runs[jobID]
	out := make([]*Run, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		copied := *all[i]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) LastRun(ctx context.Context, jobID string) (*Run, error) {
	runs, err := s.Runs(ctx, jobID, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

func cloneJob(job *Job) *Job {
	copied := *job
	if job.Payload.Delivery != nil {
		delivery := make(map[string]any, len(job.Payload.Delivery))
		for k, v := range job.Payload.Delivery {
			delivery[k] = v
		}
		copied.Payload.Delivery = delivery
	}
	return &copied
}
