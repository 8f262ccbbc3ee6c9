package ws

import (
	"github.com/passingBySol/agentnotch/internal/state"
)

type MessageType string

const (
	MsgSnapshot     MessageType = "snapshot"
	MsgDelta        MessageType = "delta"
	MsgCompletion   MessageType = "completion"
	MsgSourceHealth MessageType = "source_health"
	MsgError        MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Sessions []*state.Session `json:"sessions"`
}

type DeltaPayload struct {
	Updates []*state.Session `json:"updates"`
	Removed []string         `json:"removed,omitempty"`
}

type CompletionPayload struct {
	SessionID  string         `json:"sessionId"`
	Key        string         `json:"key"`
	Activity   state.Activity `json:"activity"`
	WorkingDir string         `json:"workingDir,omitempty"`
	Tokens     int            `json:"tokens"`
}

type SourceHealthPayload struct {
	Source           string `json:"source"`
	Status           string `json:"status"`
	DiscoverFailures int    `json:"discoverFailures,omitempty"`
	DegradedSessions int    `json:"degradedSessions,omitempty"`
	LastError        string `json:"lastError,omitempty"`
}
