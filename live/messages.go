package live

import (
	"github.com/Seednode/audiencebox/engine"
	"github.com/Seednode/audiencebox/model"
	"github.com/Seednode/audiencebox/tally"
	"github.com/Seednode/audiencebox/view"
)

type Role string

const (
	RoleParticipant Role = "participant"
	RoleProjector   Role = "projector"
	RoleDirector    Role = "director"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`               // "preview", "commit", "end", "answer"
	Screen   string `json:"screen,omitempty"`   // preview / commit, e.g. "question:2" or "results"
	Index    *int   `json:"index,omitempty"`    // answer
	AnswerID string `json:"answerId,omitempty"` // answer
}

// HelloMessage is sent first on connect so the client knows who it is.
type HelloMessage struct {
	Type          string `json:"type"` // "hello"
	SessionID     string `json:"sessionId"`
	Role          Role   `json:"role"`
	ParticipantID string `json:"participantId,omitempty"`
}

// ViewMessage carries the resolved live screen to every client.
type ViewMessage struct {
	Type      string        `json:"type"` // "view"
	SessionID string        `json:"sessionId"`
	View      view.Resolved `json:"view"`
}

// SessionMessage is sent to directors. Session is nil once deleted.
type SessionMessage struct {
	Type    string         `json:"type"` // "session"
	Session *model.Session `json:"session"`
}

// TallyMessage is sent to directors and the projector.
type TallyMessage struct {
	Type  string      `json:"type"` // "tally"
	Tally tally.Tally `json:"tally"`
}

type PreviewMessage struct {
	Type   string        `json:"type"` // "preview"
	Screen model.Screen  `json:"screen"`
	View   view.Resolved `json:"view"`
}

type CommitMessage struct {
	Type   string              `json:"type"` // "commit_result"
	Result engine.CommitResult `json:"result"`
}

type AnswerAckMessage struct {
	Type     string `json:"type"` // "answer_ack"
	Index    int    `json:"index"`
	AnswerID string `json:"answerId"`
}

// ErrorMessage is for "error" (directors) and "submission_error"
// (participants, who may retry).
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PresetListMessage carries every preset the director owns.
type PresetListMessage struct {
	Type    string         `json:"type"` // "presets"
	Presets []model.Preset `json:"presets"`
}

// SessionListMessage carries every session the director runs.
type SessionListMessage struct {
	Type     string          `json:"type"` // "sessions"
	Sessions []model.Session `json:"sessions"`
}
