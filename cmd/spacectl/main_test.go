package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"live_spaces/internal/domain"
	"live_spaces/internal/live/session"
)

func TestWatchUpdates_EndsOnDisconnected(t *testing.T) {
	updates := make(chan session.Snapshot, 4)
	var out bytes.Buffer
	ended := watchUpdates(updates, &out)

	updates <- session.Snapshot{State: domain.StateConnecting}
	updates <- session.Snapshot{State: domain.StateConnected}
	select {
	case <-ended:
		t.Fatal("ended while still connected")
	case <-time.After(20 * time.Millisecond):
	}

	updates <- session.Snapshot{State: domain.StateDisconnected}
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("did not end after disconnect")
	}

	close(updates)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 3, strings.Count(out.String(), "\n"))
}
