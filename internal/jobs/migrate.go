package jobs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hearthd/hearth/internal/storage"
)

// migratedFlag marks completion of the legacy-file migration in the metadata
// store so it runs exactly once.
const migratedFlag = "jobs.migrated.v1"

// Migrate moves the legacy flat-file layout (jobs.json plus one run log per
// job under job_runs/) into the canonical store. Safe to call on every
// startup; a metadata flag gates the work.
func Migrate(ctx context.Context, dataDir string, store Store, meta storage.MetadataStore, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := meta.Get(ctx, migratedFlag); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	jobsPath := filepath.Join(dataDir, "jobs.json")
	data, err := os.ReadFile(jobsPath)
	if errors.Is(err, os.ErrNotExist) {
		return meta.Set(ctx, migratedFlag, "1")
	}
	if err != nil {
		return err
	}

	var legacy []*Job
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}
	migrated := 0
	for _, job := range legacy {
		if job == nil || job.ID == "" {
			continue
		}
		if err := store.Create(ctx, job); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			return err
		}
		if err := migrateRunLog(ctx, dataDir, job.ID, store); err != nil {
			logger.Warn("migrate run log", "job_id", job.ID, "error", err)
		}
		migrated++
	}
	if migrated > 0 {
		logger.Info("migrated legacy job files", "jobs", migrated)
	}
	return meta.Set(ctx, migratedFlag, "1")
}

// migrateRunLog reads job_runs/<id>.log, one JSON run per line.
func migrateRunLog(ctx context.Context, dataDir, jobID string, store Store) error {
	f, err := os.Open(filepath.Join(dataDir, "job_runs", jobID+".log"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var run Run
		if err := json.Unmarshal(line, &run); err != nil {
			continue
		}
		run.JobID = jobID
		if err := store.AppendRun(ctx, &run); err != nil {
			return err
		}
	}
	return scanner.Err()
}
