package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrJobNotFound is returned when the ledger has no row for a job
var ErrJobNotFound = errors.New("job not found")

// JobRecord is the ledger row of one request. Transcripts are never stored.
type JobRecord struct {
	JobID          string     `json:"job_id"`
	AudioURL       string     `json:"audio_url"`
	Language       string     `json:"language"`
	OutputFormat   string     `json:"output_format"`
	Status         string     `json:"status"`
	Stage          string     `json:"stage"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	Duration       float64    `json:"duration"`
	ProcessingTime float64    `json:"processing_time"`
	SpeakerCount   int        `json:"speaker_count"`
	SegmentCount   int        `json:"segment_count"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// JobDB handles SQLite job ledger operations
type JobDB struct {
	db *sql.DB
}

// NewJobDB opens (or creates) the job ledger at dbPath
func NewJobDB(dbPath string) (*JobDB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		audio_url TEXT NOT NULL,
		language TEXT NOT NULL,
		output_format TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		duration REAL NOT NULL DEFAULT 0,
		processing_time REAL NOT NULL DEFAULT 0,
		speaker_count INTEGER NOT NULL DEFAULT 0,
		segment_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &JobDB{db: db}, nil
}

// CreateJob inserts the initial row of a job
func (jdb *JobDB) CreateJob(rec JobRecord) error {
	query := `
	INSERT INTO jobs (job_id, audio_url, language, output_format, status, stage, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := jdb.db.Exec(query, rec.JobID, rec.AudioURL, rec.Language, rec.OutputFormat,
		rec.Status, rec.Stage, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", rec.JobID, err)
	}
	return nil
}

// UpdateStage records the stage a running job has entered
func (jdb *JobDB) UpdateStage(jobID, status, stage string) error {
	_, err := jdb.db.Exec(`UPDATE jobs SET status = ?, stage = ? WHERE job_id = ?`, status, stage, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

// FinishJob stores the terminal outcome of a job
func (jdb *JobDB) FinishJob(rec JobRecord) error {
	finished := time.Now().UTC()
	if rec.FinishedAt != nil {
		finished = rec.FinishedAt.UTC()
	}

	query := `
	UPDATE jobs SET status = ?, stage = ?, error_kind = ?, error_message = ?, duration = ?,
		processing_time = ?, speaker_count = ?, segment_count = ?, finished_at = ?
	WHERE job_id = ?
	`
	res, err := jdb.db.Exec(query, rec.Status, rec.Stage, rec.ErrorKind, rec.ErrorMessage,
		rec.Duration, rec.ProcessingTime, rec.SpeakerCount, rec.SegmentCount, finished, rec.JobID)
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", rec.JobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, rec.JobID)
	}
	return nil
}

const selectJob = `
	SELECT job_id, audio_url, language, output_format, status, stage, error_kind, error_message,
		duration, processing_time, speaker_count, segment_count, created_at, finished_at
	FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*JobRecord, error) {
	var (
		rec      JobRecord
		finished sql.NullTime
	)
	err := row.Scan(&rec.JobID, &rec.AudioURL, &rec.Language, &rec.OutputFormat, &rec.Status,
		&rec.Stage, &rec.ErrorKind, &rec.ErrorMessage, &rec.Duration, &rec.ProcessingTime,
		&rec.SpeakerCount, &rec.SegmentCount, &rec.CreatedAt, &finished)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	return &rec, nil
}

// GetJob retrieves a job by ID
func (jdb *JobDB) GetJob(jobID string) (*JobRecord, error) {
	rec, err := scanJob(jdb.db.QueryRow(selectJob+` WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return rec, nil
}

// ListJobs returns the most recent jobs first
func (jdb *JobDB) ListJobs(limit int) ([]JobRecord, error) {
	rows, err := jdb.db.Query(selectJob+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []JobRecord{}
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read job row: %w", err)
		}
		jobs = append(jobs, *rec)
	}
	return jobs, rows.Err()
}

// PruneFinished deletes finished jobs older than cutoff
func (jdb *JobDB) PruneFinished(cutoff time.Time) (int64, error) {
	res, err := jdb.db.Exec(`DELETE FROM jobs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (jdb *JobDB) Close() error {
	return jdb.db.Close()
}
