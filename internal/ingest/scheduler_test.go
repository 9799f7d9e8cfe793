package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_Validation(t *testing.T) {
	job := func(context.Context) error { return nil }
	_, err := NewScheduler("", job, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewScheduler("not a cron", job, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewScheduler("*/15 * * * *", job, zerolog.Nop())
	assert.NoError(t, err)
	_, err = NewScheduler("@hourly", job, zerolog.Nop())
	assert.NoError(t, err)
}

func TestScheduler_Next(t *testing.T) {
	s, err := NewScheduler("*/15 * * * *", nil, zerolog.Nop())
	require.NoError(t, err)
	from := time.Date(2026, 3, 1, 10, 7, 30, 0, time.UTC)
	next, err := s.Next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), next.UTC())
}

func TestScheduler_RunKeepsGoingAfterFailures(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := NewScheduler("@hourly", func(context.Context) error {
		if runs.Add(1) >= 3 {
			cancel()
		}
		return errors.New("store offline")
	}, zerolog.Nop())
	require.NoError(t, err)
	fired := make(chan time.Time)
	close(fired)
	s.after = func(time.Duration) <-chan time.Time { return fired }

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestScheduler_StopsWhileWaiting(t *testing.T) {
	s, err := NewScheduler("@yearly", func(context.Context) error { return nil }, zerolog.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
