package journal

import "time"

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one pipeline execution for one recipe.
type Run struct {
	// ID is a UUIDv4 assigned at creation.
	ID string

	// RecipePath is the recipe directory relative to the repository root.
	RecipePath string

	// Nickname is the recipe's display name.
	Nickname string

	// CommitSHA is the commit the run planned.
	CommitSHA string

	// Status is the current lifecycle state.
	Status RunStatus

	// Error carries the failure message for failed runs.
	Error string

	StartedAt   time.Time
	CompletedAt *time.Time
}

// Attempt is one recorded plan attempt within a run.
type Attempt struct {
	RunID string

	// Position is the 0-based order of the attempt within the run.
	Position int

	// Label is "defaults" or the variable-file name.
	Label string

	// VarFile is the variable-file path; empty for the default attempt.
	VarFile string

	Success bool
	LogPath string
}

// Artifact is one published archive within a run.
type Artifact struct {
	RunID string

	// Name is the artifact name used on the upload protocol.
	Name string

	// URL is the resolved download URL.
	URL string

	// SizeBytes is the archive size.
	SizeBytes int64
}
