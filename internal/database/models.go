package database

// Setting is one stored key/value pair.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt *string
}

// Launch records a fine-tuning job submitted from this machine.
type Launch struct {
	ID          int64
	ProjectID   string
	DatasetID   string
	JobID       string
	Provider    string
	Model       string
	Characters  int
	Outcome     string // "payment" or "started"
	RedirectURL *string
	JobStatus   *string
	CreatedAt   *string
	UpdatedAt   *string
}

// Stats contains aggregate database statistics.
type Stats struct {
	Settings    int
	Sessions    int
	Launches    int
	RunningJobs int
}
