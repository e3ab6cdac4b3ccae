package network

import (
	"sync"

	"live_spaces/internal/domain"
)

// Signal is the read-only view of connectivity handed to consumers.
type Signal interface {
	Current() domain.NetworkStatus
	Subscribe() (<-chan domain.NetworkStatus, func())
}

// Monitor holds the current NetworkStatus and fans changes out to
// subscribers. A slow subscriber only ever sees the latest value.
type Monitor struct {
	mu      sync.Mutex
	current domain.NetworkStatus
	subs    map[int]chan domain.NetworkStatus
	nextID  int
}

func NewMonitor(initial domain.NetworkStatus) *Monitor {
	if initial.Type == "" {
		initial.Type = domain.NetworkUnknown
	}
	return &Monitor{
		current: initial,
		subs:    make(map[int]chan domain.NetworkStatus),
	}
}

func (m *Monitor) Current() domain.NetworkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set records status and notifies subscribers. Returns false when nothing
// changed.
func (m *Monitor) Set(status domain.NetworkStatus) bool {
	if !status.Connected {
		status.Type = domain.NetworkNone
	} else if status.Type == "" || status.Type == domain.NetworkNone {
		status.Type = domain.NetworkUnknown
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if status == m.current {
		return false
	}
	m.current = status
	for _, ch := range m.subs {
		offer(ch, status)
	}
	return true
}

// Subscribe returns a channel of status changes and a cancel func that
// closes it. The current value is not replayed; read Current for that.
func (m *Monitor) Subscribe() (<-chan domain.NetworkStatus, func()) {
	ch := make(chan domain.NetworkStatus, 1)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// offer replaces whatever is buffered with status.
func offer(ch chan domain.NetworkStatus, status domain.NetworkStatus) {
	select {
	case ch <- status:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- status:
	default:
	}
}
