package database

import (
	"database/sql"
	"errors"
)

// InsertLaunch records a submitted job. A job id already recorded is ignored
// and 0 is returned.
func (db *DB) InsertLaunch(l Launch) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO launches (project_id, dataset_id, job_id, provider, model, characters, outcome, redirect_url, job_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ProjectID, l.DatasetID, l.JobID, l.Provider, l.Model, l.Characters, l.Outcome, l.RedirectURL, l.JobStatus,
	)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// UpdateLaunchStatus stores the latest known job status.
func (db *DB) UpdateLaunchStatus(jobID, status string) error {
	_, err := db.conn.Exec(
		"UPDATE launches SET job_status = ?, updated_at = datetime('now') WHERE job_id = ?",
		status, jobID,
	)
	return err
}

// GetLaunch returns the launch for a job id, or nil.
func (db *DB) GetLaunch(jobID string) (*Launch, error) {
	row := db.conn.QueryRow(launchColumns+" WHERE job_id = ?", jobID)
	l, err := scanLaunch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// RecentLaunches returns the newest launches first. An empty projectID
// returns launches for every project.
func (db *DB) RecentLaunches(projectID string, limit int) ([]Launch, error) {
	if limit <= 0 {
		limit = 20
	}
	query := launchColumns
	var args []any
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Launch
	for rows.Next() {
		l, err := scanLaunch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// GetStats returns counts for the status command.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	queries := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&s.Settings, "SELECT COUNT(*) FROM settings WHERE key NOT LIKE ?", []any{SessionPrefix + "%"}},
		{&s.Sessions, "SELECT COUNT(*) FROM settings WHERE key LIKE ?", []any{SessionPrefix + "%"}},
		{&s.Launches, "SELECT COUNT(*) FROM launches", nil},
		{&s.RunningJobs, "SELECT COUNT(*) FROM launches WHERE job_status IS NULL OR job_status NOT IN ('succeeded', 'failed', 'cancelled')", nil},
	}
	for _, q := range queries {
		if err := db.conn.QueryRow(q.query, q.args...).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	return s, nil
}

const launchColumns = `SELECT id, project_id, dataset_id, job_id, provider, model, characters, outcome, redirect_url, job_status, created_at, updated_at FROM launches`

type scanner interface {
	Scan(dest ...any) error
}

func scanLaunch(row scanner) (*Launch, error) {
	var l Launch
	err := row.Scan(&l.ID, &l.ProjectID, &l.DatasetID, &l.JobID, &l.Provider, &l.Model, &l.Characters,
		&l.Outcome, &l.RedirectURL, &l.JobStatus, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
