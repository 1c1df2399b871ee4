package lbot

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labrat-eu/lbot-go/internal/lbot/msg"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr := New(Options{Logger: zerolog.Nop(), WorkerCount: 2, WorkerQueueSize: 16})
	t.Cleanup(mgr.Shutdown)
	return mgr
}

func TestManagerClockNodeIsUnique(t *testing.T) {
	mgr := newTestManager(t)

	require.NoError(t, mgr.AddNode(NewClockNode(ClockSystem)))

	err := mgr.AddNode(NewClockNode(ClockSystem))
	require.Error(t, err)
	lbotErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrManagement, lbotErr.Kind)
}

func TestManagerClockNodeTicksOnTimeTopic(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.AddNode(NewClockNode(ClockSystem)))

	recv, err := NewReceiver[msg.Timestamp, msg.Timestamp](
		mgr.Topics(), "/time", Identity[msg.Timestamp], 4, Inline, nil, nil)
	require.NoError(t, err)

	// a fresh receiver reports topic-no-data until the first tick is stored
	require.Eventually(t, func() bool {
		_, err := recv.Latest()
		return err == nil
	}, 200*time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ts, err := recv.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ts.Time.IsZero())
}

func TestManagerAddRemovePlugin(t *testing.T) {
	mgr := newTestManager(t)
	p := &recordingPlugin{}
	mgr.AddPlugin(p, NewBlacklistFilter())

	sender, err := NewSender[int, int](mgr.Topics(), "/plugin-topic", Identity[int], IdentityMove[int])
	require.NoError(t, err)
	sender.Put(1)

	p.mu.Lock()
	assert.Contains(t, p.messages, "/plugin-topic")
	p.mu.Unlock()

	mgr.RemovePlugin(p)
}

func TestManagerClusterRollsBackOnFailedNode(t *testing.T) {
	mgr := newTestManager(t)

	cluster := NewClusterBase("cam")
	cluster.AddNode(NewClockNode(ClockSystem))
	cluster.AddNode(NewClockNode(ClockSystem)) // second clock is rejected: unique type already registered

	err := mgr.AddCluster(cluster)
	require.Error(t, err)

	// the first node's registration must have been rolled back
	err = mgr.AddNode(NewClockNode(ClockSystem))
	require.NoError(t, err)
}
