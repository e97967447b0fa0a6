package schedule

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/attuneai/chime/errors"
)

const (
	jobsFile    = "jobs.jsonl"
	historyFile = "history.jsonl"

	// Job bodies are stored inline, so lines can be large
	maxLineBytes = 1 << 20
)

// Store persists job definitions and execution history as line-delimited
// JSON files. Job mutations rewrite the whole jobs file through a
// temp-file-then-rename, so a reader never observes a partially-written
// file; the history file is append-only and never rewritten.
//
// The mutex serializes the load-rewrite cycle between scheduler
// goroutines. Crash safety comes from the rename; the store assumes a
// single process owns the files.
type Store struct {
	dir         string
	jobsPath    string
	historyPath string
	mu          sync.Mutex
	log         *zap.SugaredLogger
}

// NewStore creates a store rooted at dir, creating it if needed
func NewStore(dir string, log *zap.SugaredLogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create store directory %s", dir)
	}
	return &Store{
		dir:         dir,
		jobsPath:    filepath.Join(dir, jobsFile),
		historyPath: filepath.Join(dir, historyFile),
		log:         log,
	}, nil
}

// SaveJob upserts a job by id and atomically rewrites the jobs file.
// The job's UpdatedAt is refreshed; CreatedAt is set on first save.
func (s *Store) SaveJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.loadJobsLocked()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	replaced := false
	for i, existing := range jobs {
		if existing.ID == job.ID {
			jobs[i] = job
			replaced = true
			break
		}
	}
	if !replaced {
		jobs = append(jobs, job)
	}

	return s.rewriteJobsLocked(jobs)
}

// DeleteJob removes a job by id, regardless of status.
// Returns ErrNotFound when no job has that id.
func (s *Store) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.loadJobsLocked()
	if err != nil {
		return err
	}

	kept := jobs[:0]
	found := false
	for _, job := range jobs {
		if job.ID == id {
			found = true
			continue
		}
		kept = append(kept, job)
	}
	if !found {
		return errors.NewNotFoundf("job %s", id)
	}

	return s.rewriteJobsLocked(kept)
}

// LoadJobs returns all stored jobs. Corrupt lines are skipped with a
// warning, never fatal.
func (s *Store) LoadJobs() ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadJobsLocked()
}

// GetJob returns one job by id, or ErrNotFound
func (s *Store) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.loadJobsLocked()
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return nil, errors.NewNotFoundf("job %s", id)
}

// RecordExecution appends one record to the append-only history file
func (s *Store) RecordExecution(rec *ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal execution record")
	}

	f, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to open history file")
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "failed to append execution record")
	}
	return nil
}

// JobHistory returns execution records for a job, newest first.
// limit <= 0 means no limit.
func (s *Store) JobHistory(id string, limit int) ([]*ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to open history file")
	}
	defer f.Close()

	var records []*ExecutionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ExecutionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.log.Warnw("Skipping corrupt history line",
				"file", s.historyPath,
				"line", lineNo,
				"error", err)
			continue
		}
		if rec.JobID == id {
			records = append(records, &rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read history file")
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) loadJobsLocked() ([]*Job, error) {
	f, err := os.Open(s.jobsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to open jobs file")
	}
	defer f.Close()

	var jobs []*Job
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var job Job
		if err := json.Unmarshal(line, &job); err != nil {
			s.log.Warnw("Skipping corrupt job line",
				"file", s.jobsPath,
				"line", lineNo,
				"error", err)
			continue
		}
		job.Limits.applyDefaults()
		jobs = append(jobs, &job)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read jobs file")
	}
	return jobs, nil
}

// rewriteJobsLocked writes the full job set to a temp file in the same
// directory, fsyncs it, then renames over the jobs file. A failure at any
// step leaves the previous file intact.
func (s *Store) rewriteJobsLocked(jobs []*Job) error {
	tmp, err := os.CreateTemp(s.dir, "jobs-*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp jobs file")
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	w := bufio.NewWriter(tmp)
	for _, job := range jobs {
		line, err := json.Marshal(job)
		if err != nil {
			cleanup()
			return errors.Wrapf(err, "failed to marshal job %s", job.ID)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			cleanup()
			return errors.Wrap(err, "failed to write temp jobs file")
		}
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return errors.Wrap(err, "failed to flush temp jobs file")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Wrap(err, "failed to sync temp jobs file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to close temp jobs file")
	}

	if err := os.Rename(tmpPath, s.jobsPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to replace jobs file")
	}
	return nil
}
