package domain

import (
	"time"

	"github.com/google/uuid"
)

// Space is one live room (a meeting or a "space").
type Space struct {
	ID              uuid.UUID  `json:"id"`
	Code            string     `json:"code"`
	LiveKitRoomName string     `json:"livekit_room_name"`
	HostUserID      uuid.UUID  `json:"host_user_id"`
	Title           string     `json:"title"`
	Description     *string    `json:"description,omitempty"`
	Type            string     `json:"type"`
	AudioOnly       bool       `json:"audio_only"`
	Status          string     `json:"status"`
	InviteCodeHash  *string    `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

func (s *Space) IsLive() bool {
	return s.Status == SpaceStatusLive
}

func (s *Space) IsHost(userID uuid.UUID) bool {
	return s.HostUserID == userID
}

type SpaceParticipant struct {
	ID       uuid.UUID  `json:"id"`
	SpaceID  uuid.UUID  `json:"space_id"`
	UserID   uuid.UUID  `json:"user_id"`
	Role     string     `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Profile is the local mirror of a user known to the hosted auth provider.
type Profile struct {
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	SpaceStatusLive  = "live"
	SpaceStatusEnded = "ended"
)

const (
	SpaceTypePublic = "public"
	SpaceTypeInvite = "invite"
)

const (
	ParticipantRoleHost        = "host"
	ParticipantRoleParticipant = "participant"
)
