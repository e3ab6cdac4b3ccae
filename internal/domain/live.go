package domain

// ConnectionState is the local client's view of its live session.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateReconnecting
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Live reports whether media commands are accepted in this state.
func (s ConnectionState) Live() bool {
	return s == StateConnected || s == StateDegraded
}

// QualitySignal is the transport's classification of a participant's link.
type QualitySignal int

const (
	QualityUnknown QualitySignal = iota
	QualityPoor
	QualityGood
	QualityExcellent
)

func (q QualitySignal) String() string {
	switch q {
	case QualityPoor:
		return "poor"
	case QualityGood:
		return "good"
	case QualityExcellent:
		return "excellent"
	}
	return "unknown"
}

type NetworkType string

const (
	NetworkNone     NetworkType = "none"
	NetworkWifi     NetworkType = "wifi"
	NetworkCellular NetworkType = "cellular"
	NetworkUnknown  NetworkType = "unknown"
)

type NetworkStatus struct {
	Connected bool        `json:"connected"`
	Type      NetworkType `json:"type"`
}

// Metered is true on networks where video needs the user's consent.
func (n NetworkStatus) Metered() bool {
	return n.Type == NetworkCellular
}

// Participant is a user as rendered in the participant grid.
type Participant struct {
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name,omitempty"`
	Role        string          `json:"role,omitempty"`
	Muted       bool            `json:"muted"`
	HasVideo    bool            `json:"has_video"`
	Online      bool            `json:"online"`
	Connection  ConnectionState `json:"connection"`
}
