// Package kvstore provides the bounded per-job key-value storage exposed
// to job bodies. Each job gets its own namespace with a cap on key count
// and value size, so a misbehaving body cannot grow the database without
// bound.
package kvstore

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/attuneai/chime/errors"
)

// Bounds applied when Options leaves them zero
const (
	DefaultMaxKeysPerJob = 64
	DefaultMaxValueBytes = 4096
)

const schema = `
CREATE TABLE IF NOT EXISTS job_kv (
	job_id     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (job_id, key)
);
`

// Options configures storage bounds
type Options struct {
	MaxKeysPerJob int
	MaxValueBytes int
}

// Store is a sqlite-backed bounded key-value store
type Store struct {
	db            *sql.DB
	maxKeysPerJob int
	maxValueBytes int
}

// Open opens (or creates) the store at path
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open kv store at %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize kv schema")
	}

	if opts.MaxKeysPerJob <= 0 {
		opts.MaxKeysPerJob = DefaultMaxKeysPerJob
	}
	if opts.MaxValueBytes <= 0 {
		opts.MaxValueBytes = DefaultMaxValueBytes
	}

	return &Store{
		db:            db,
		maxKeysPerJob: opts.MaxKeysPerJob,
		maxValueBytes: opts.MaxValueBytes,
	}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for (jobID, key); found is false when absent
func (s *Store) Get(jobID, key string) (value string, found bool, err error) {
	err = s.db.QueryRow(
		`SELECT value FROM job_kv WHERE job_id = ? AND key = ?`,
		jobID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "failed to get kv entry")
	}
	return value, true, nil
}

// Set upserts (jobID, key) -> value, enforcing the value-size and
// keys-per-job bounds. Overwriting an existing key never counts against
// the key bound.
func (s *Store) Set(jobID, key, value string) error {
	if len(value) > s.maxValueBytes {
		return errors.Newf("value for key %q is %d bytes, limit is %d",
			key, len(value), s.maxValueBytes)
	}

	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM job_kv WHERE job_id = ? AND key = ?`,
		jobID, key,
	).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "failed to check kv entry")
	}

	if exists == 0 {
		count, err := s.Count(jobID)
		if err != nil {
			return err
		}
		if count >= s.maxKeysPerJob {
			return errors.Newf("job %s already has %d keys, limit is %d",
				jobID, count, s.maxKeysPerJob)
		}
	}

	_, err = s.db.Exec(
		`INSERT INTO job_kv (job_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (job_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		jobID, key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to set kv entry")
	}
	return nil
}

// Delete removes (jobID, key); deleting an absent key is not an error
func (s *Store) Delete(jobID, key string) error {
	if _, err := s.db.Exec(
		`DELETE FROM job_kv WHERE job_id = ? AND key = ?`, jobID, key,
	); err != nil {
		return errors.Wrap(err, "failed to delete kv entry")
	}
	return nil
}

// Count returns the number of keys stored for a job
func (s *Store) Count(jobID string) (int, error) {
	var count int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM job_kv WHERE job_id = ?`, jobID,
	).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count kv entries")
	}
	return count, nil
}

// DeleteJob removes every entry for a job. Called when a job is deleted
// so its namespace does not linger.
func (s *Store) DeleteJob(jobID string) error {
	if _, err := s.db.Exec(
		`DELETE FROM job_kv WHERE job_id = ?`, jobID,
	); err != nil {
		return errors.Wrap(err, "failed to clear kv namespace")
	}
	return nil
}
