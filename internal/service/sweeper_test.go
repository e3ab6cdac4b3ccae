package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"live_spaces/pkg/logger"
)

func TestRunExpirySweeper(t *testing.T) {
	env := newTestEnv(t)
	svc := env.spaces()

	svc.now = func() time.Time { return time.Now().Add(-24 * time.Hour) }
	created, err := svc.Create(context.Background(), uuid.New(), CreateSpaceInput{Title: "old"})
	require.NoError(t, err)
	svc.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunExpirySweeper(ctx, svc, 10*time.Millisecond, logger.Nop())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		s, err := svc.Resolve(context.Background(), created.Space.Code)
		return err == nil && !s.IsLive()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
