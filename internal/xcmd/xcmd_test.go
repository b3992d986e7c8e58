package xcmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitInterruptedReturnsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := WaitInterrupted(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunUntilInterruptedPropagatesTaskError(t *testing.T) {
	boom := errors.New("boom")
	err := RunUntilInterrupted(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunUntilInterruptedStopsAllTasksOnOneFailure(t *testing.T) {
	started := make(chan struct{})
	err := RunUntilInterrupted(context.Background(),
		func(ctx context.Context) error {
			close(started)
			return errors.New("first task failed")
		},
		func(ctx context.Context) error {
			<-started
			<-ctx.Done()
			return nil
		},
	)
	assert.Error(t, err)
}
