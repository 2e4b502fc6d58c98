package chat

import (
	"time"

	"aco/internal/scriptplan"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a step's history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is the outcome of Send.
type Response struct {
	Response        string                    `json:"response"`
	ArtifactUpdated bool                      `json:"artifact_updated"`
	UpdatedArtifact any                       `json:"updated_data,omitempty"`
	Changes         *scriptplan.ChangeSummary `json:"change_summary,omitempty"`
}

type reply struct {
	Reply string `json:"reply" jsonschema:"Conversational answer to the user"`
}

type editReply struct {
	Reply           string         `json:"reply" jsonschema:"Conversational answer to the user"`
	UpdatedArtifact map[string]any `json:"updated_artifact,omitempty" jsonschema:"Complete replacement artifact, only when the user asked for a change"`
}
