package manifest

import (
	"time"

	"aco/internal/scanner"
)

// Version is the manifest schema version written to new manifests.
const Version = "1.0"

// Manifest statuses.
const (
	StatusDraft = "draft"
	StatusReady = "ready"
)

// DocumentReference points at a document uploaded with the intake.
type DocumentReference struct {
	Filename      string  `json:"filename"`
	Path          *string `json:"path"`
	ContentType   *string `json:"content_type"`
	SizeBytes     *int64  `json:"size_bytes"`
	Description   *string `json:"description"`
	ExtractedText *string `json:"extracted_text"`
}

// UserIntake is what the user told us about the experiment.
type UserIntake struct {
	ExperimentDescription string              `json:"experiment_description"`
	Goals                 *string             `json:"goals"`
	KnownIssues           *string             `json:"known_issues"`
	Documents             []DocumentReference `json:"documents"`
	TargetDirectory       string              `json:"target_directory"`
	AdditionalNotes       *string             `json:"additional_notes"`
	CreatedAt             time.Time           `json:"created_at"`
}

// Manifest combines the intake with the scan of the target directory.
type Manifest struct {
	ID         string              `json:"id"`
	Version    string              `json:"version"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
	UserIntake UserIntake          `json:"user_intake"`
	ScanResult *scanner.ScanResult `json:"scan_result"`
	Status     string              `json:"status"`
	Metadata   map[string]any      `json:"metadata"`
}

// Patch carries the editable intake fields. Nil fields are left unchanged.
type Patch struct {
	ExperimentDescription *string        `json:"experiment_description"`
	Goals                 *string        `json:"goals"`
	KnownIssues           *string        `json:"known_issues"`
	AdditionalNotes       *string        `json:"additional_notes"`
	TargetDirectory       *string        `json:"target_directory"`
	Metadata              map[string]any `json:"metadata"`
	Rescan                bool           `json:"rescan"`
}
