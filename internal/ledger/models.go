package ledger

import "time"

// RunStatus mirrors the runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run is one sync run of one collection.
type Run struct {
	ID           string    `gorm:"primaryKey;size:36"`
	CollectionID string    `gorm:"index;size:64"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   *time.Time
	Status       RunStatus `gorm:"index;size:16"`
	FailedStage  string    `gorm:"size:64"`
	ErrorMessage string    `gorm:"type:text"`
	DryRun       bool

	FilesListed     int
	FilesDeleted    int
	FilesCorrupted  int
	FilesDownloaded int
	FilesFailed     int
	BytesDownloaded int64
	PagesIndexed    int
	ContainerPath   string `gorm:"size:1024"`
}

// StageEvent is one stage transition of a run.
type StageEvent struct {
	ID         uint      `gorm:"primaryKey"`
	RunID      string    `gorm:"index;size:36"`
	Stage      string    `gorm:"size:64"`
	Kind       string    `gorm:"size:16"` // start, done, error
	At         time.Time `gorm:"index"`
	DurationMS int64
	Note       string `gorm:"type:text"`
}
