package domain

import (
	"time"

	"github.com/google/uuid"
)

type VideoState string

const (
	VideoNotStarted             VideoState = "not_started"
	VideoWaitingForParticipants VideoState = "waiting_for_participants"
	VideoActive                 VideoState = "active"
	VideoEnded                  VideoState = "ended"
)

func (s VideoState) IsTerminal() bool {
	return s == VideoEnded
}

// String representation (for logging)
func (s VideoState) String() string {
	return string(s)
}

type VideoCall struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	State     VideoState `json:"state"`

	StartedAt            *time.Time `json:"started_at,omitempty"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	ClientJoinedAt       *time.Time `json:"client_joined_at,omitempty"`
	PsychologistJoinedAt *time.Time `json:"psychologist_joined_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
