package domain

import (
	"time"

	"github.com/google/uuid"
)

// SpaceEventKind names a step in a space's lifecycle.
type SpaceEventKind string

const (
	SpaceEventCreated     SpaceEventKind = "space.created"
	SpaceEventJoined      SpaceEventKind = "space.joined"
	SpaceEventLeft        SpaceEventKind = "space.left"
	SpaceEventEnded       SpaceEventKind = "space.ended"
	SpaceEventExpired     SpaceEventKind = "space.expired"
	SpaceEventTokenIssued SpaceEventKind = "space.token_issued"
)

func (k SpaceEventKind) Valid() bool {
	switch k {
	case SpaceEventCreated, SpaceEventJoined, SpaceEventLeft,
		SpaceEventEnded, SpaceEventExpired, SpaceEventTokenIssued:
		return true
	}
	return false
}

// SpaceEvent is one entry of a space's history. Actor is nil for events
// raised by the server itself, such as expiry.
type SpaceEvent struct {
	ID      int64            `json:"id"`
	SpaceID uuid.UUID        `json:"space_id"`
	Kind    SpaceEventKind   `json:"kind"`
	Actor   *uuid.UUID       `json:"actor,omitempty"`
	Detail  SpaceEventDetail `json:"detail"`
	At      time.Time        `json:"at"`
}

// SpaceEventDetail carries the fields that matter for a given kind;
// the rest stay empty.
type SpaceEventDetail struct {
	Code        string `json:"code,omitempty"`
	SpaceType   string `json:"space_type,omitempty"`
	Role        string `json:"role,omitempty"`
	MaxDuration string `json:"max_duration,omitempty"`
}
