package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/protocol"
)

func TestRegistryAddRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.manager.Registry()

	a := env.manager.Open(ctx, &fakeConn{})
	b := env.manager.Open(ctx, &fakeConn{})
	assert.Equal(t, 2, reg.ActiveCount())

	got, ok := reg.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, reg.IDs())

	reg.Remove("meeting_does_not_exist")
	assert.Equal(t, 2, reg.ActiveCount())

	reg.Remove(a.ID)
	reg.Remove(a.ID)
	assert.Equal(t, 1, reg.ActiveCount())
	_, ok = reg.Get(a.ID)
	assert.False(t, ok)
}

func TestRegistryBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.manager.Registry()

	healthy := []*fakeConn{{}, {}}
	dead := &fakeConn{}
	for _, c := range healthy {
		env.manager.Open(ctx, c)
	}
	env.manager.Open(ctx, dead)
	dead.fail = true

	delivered := reg.Broadcast(protocol.AgentReply("Meeting starts in 5 minutes"))
	assert.Equal(t, 2, delivered)

	for _, c := range healthy {
		notes := c.notifications(t)
		require.Len(t, notes, 2)
		assert.Equal(t, "Meeting starts in 5 minutes", notes[1]["payload"])
	}
}

func TestRegistryBroadcastEmpty(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	assert.Equal(t, 0, reg.Broadcast(protocol.Error("nobody home")))
	assert.Empty(t, reg.IDs())
}
