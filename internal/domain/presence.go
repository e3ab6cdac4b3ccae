package domain

import "time"

// Presence fields tracked with their own write clocks.
const (
	PresenceFieldDisplayName = "display_name"
	PresenceFieldRole        = "role"
	PresenceFieldMuted       = "muted"
	PresenceFieldHasVideo    = "has_video"
	PresenceFieldOnline      = "online"
)

// PresenceUpdate is a partial write of one user's presence. Nil fields are
// left untouched.
type PresenceUpdate struct {
	UserID      string    `json:"user_id"`
	DisplayName *string   `json:"display_name,omitempty"`
	Role        *string   `json:"role,omitempty"`
	Muted       *bool     `json:"muted,omitempty"`
	HasVideo    *bool     `json:"has_video,omitempty"`
	Online      *bool     `json:"online,omitempty"`
	At          time.Time `json:"at"`
}

// PresenceState is the merged presence of one user. Clock holds, per field,
// the unix-nano time of the write currently applied.
type PresenceState struct {
	UserID      string           `json:"user_id"`
	DisplayName string           `json:"display_name"`
	Role        string           `json:"role"`
	Muted       bool             `json:"muted"`
	HasVideo    bool             `json:"has_video"`
	Online      bool             `json:"online"`
	Clock       map[string]int64 `json:"clock"`
}

// NewPresenceState returns the default presence: muted, camera off, offline.
func NewPresenceState(userID string) PresenceState {
	return PresenceState{
		UserID: userID,
		Role:   ParticipantRoleParticipant,
		Muted:  true,
		Clock:  make(map[string]int64),
	}
}

// Apply merges u into s field by field. A field is overwritten only by a
// strictly newer write, so replays and reordered updates are harmless.
// Reports whether anything changed.
func (s *PresenceState) Apply(u PresenceUpdate) bool {
	if s.Clock == nil {
		s.Clock = make(map[string]int64)
	}
	at := u.At.UnixNano()
	changed := false

	take := func(field string) bool {
		if at <= s.Clock[field] {
			return false
		}
		s.Clock[field] = at
		changed = true
		return true
	}

	if u.DisplayName != nil && take(PresenceFieldDisplayName) {
		s.DisplayName = *u.DisplayName
	}
	if u.Role != nil && take(PresenceFieldRole) {
		s.Role = *u.Role
	}
	if u.Muted != nil && take(PresenceFieldMuted) {
		s.Muted = *u.Muted
	}
	if u.HasVideo != nil && take(PresenceFieldHasVideo) {
		s.HasVideo = *u.HasVideo
	}
	if u.Online != nil && take(PresenceFieldOnline) {
		s.Online = *u.Online
	}
	return changed
}

// Merge folds another copy of the same user's state into s.
func (s *PresenceState) Merge(o PresenceState) bool {
	changed := false
	apply := func(field string, set func()) {
		at, ok := o.Clock[field]
		if !ok {
			return
		}
		if s.Clock == nil {
			s.Clock = make(map[string]int64)
		}
		if at <= s.Clock[field] {
			return
		}
		s.Clock[field] = at
		set()
		changed = true
	}

	apply(PresenceFieldDisplayName, func() { s.DisplayName = o.DisplayName })
	apply(PresenceFieldRole, func() { s.Role = o.Role })
	apply(PresenceFieldMuted, func() { s.Muted = o.Muted })
	apply(PresenceFieldHasVideo, func() { s.HasVideo = o.HasVideo })
	apply(PresenceFieldOnline, func() { s.Online = o.Online })
	return changed
}

func (s PresenceState) Participant() Participant {
	return Participant{
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Role:        s.Role,
		Muted:       s.Muted,
		HasVideo:    s.HasVideo,
		Online:      s.Online,
	}
}

const (
	PresenceFrameSnapshot = "snapshot"
	PresenceFrameUpdate   = "update"
	PresenceFrameEnded    = "ended"
	PresenceFramePublish  = "publish"
	PresenceFrameError    = "error"
)

// PresenceFrame is one message on the presence websocket. The server sends
// snapshot, update, ended and error frames; clients send publish frames.
type PresenceFrame struct {
	Type         string          `json:"type"`
	Participants []PresenceState `json:"participants,omitempty"`
	State        *PresenceState  `json:"state,omitempty"`
	Update       *PresenceUpdate `json:"update,omitempty"`
	Error        string          `json:"error,omitempty"`
}
