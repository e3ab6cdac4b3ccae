package session

import (
	"errors"

	"live_spaces/internal/domain"
)

var (
	ErrNetworkUnavailable   = errors.New("waiting for network")
	ErrNotHost              = errors.New("only the host can end the session")
	ErrConfirmationRequired = errors.New("video on a metered network needs confirmation")
	ErrPoorQuality          = errors.New("connection too poor for video")
	ErrNotConnected         = errors.New("not connected to a session")
	ErrAlreadyJoined        = errors.New("session already joined")
	ErrBusy                 = errors.New("previous command still in progress")
	ErrClosed               = errors.New("controller closed")
)

type NoticeKind int

const (
	NoticeWaitingForNetwork NoticeKind = iota + 1
	NoticeReconnecting
	NoticeVideoDisabled
	NoticeConnectionError
	NoticeMediaError
	NoticeEndFailed
	NoticeSessionEnded
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeWaitingForNetwork:
		return "waiting_for_network"
	case NoticeReconnecting:
		return "reconnecting"
	case NoticeVideoDisabled:
		return "video_disabled"
	case NoticeConnectionError:
		return "connection_error"
	case NoticeMediaError:
		return "media_error"
	case NoticeEndFailed:
		return "end_failed"
	case NoticeSessionEnded:
		return "session_ended"
	}
	return "unknown"
}

// Notice is a message meant for the user, e.g. a banner or a toast.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}

// Snapshot is the controller's state at one point in time.
type Snapshot struct {
	State             domain.ConnectionState
	SessionID         string
	Role              string
	Identity          string
	Muted             bool
	HasVideo          bool
	Quality           domain.QualitySignal
	Network           domain.NetworkStatus
	WaitingForNetwork bool
	Participants      []domain.Participant
	Err               error
}

func (s Snapshot) IsHost() bool {
	return s.Role == domain.ParticipantRoleHost
}
