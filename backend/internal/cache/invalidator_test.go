package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestNATSInvalidator_Publishes(t *testing.T) {
	nc := startTestNATS(t)
	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("search.cache.invalidate", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	inv := NewNATSInvalidator(nc, "search.cache.invalidate")
	require.NoError(t, inv.InvalidateUser(context.Background(), "u1", ReasonApproval))

	select {
	case msg := <-ch:
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "u1", ev.UserID)
		assert.Equal(t, ReasonApproval, ev.Reason)
		assert.False(t, ev.At.IsZero())
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for invalidation")
	}
}

func TestNATSInvalidator_ClosedConnection(t *testing.T) {
	nc := startTestNATS(t)
	inv := NewNATSInvalidator(nc, "search.cache.invalidate")
	nc.Close()
	assert.Error(t, inv.InvalidateUser(context.Background(), "u1", ReasonDiscovery))
}

type failing struct{ calls int }

func (f *failing) InvalidateUser(context.Context, string, string) error {
	f.calls++
	return errors.New("cache offline")
}

func TestBestEffort_LogsAndSwallows(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	inv := &failing{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	BestEffort(ctx, inv, zap.New(core), "u1", ReasonDiscovery)

	assert.Equal(t, 1, inv.calls)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "u1", logs.All()[0].ContextMap()["user_id"])

	BestEffort(context.Background(), nil, zap.New(core), "u1", ReasonDiscovery)
	assert.NoError(t, Nop{}.InvalidateUser(context.Background(), "u1", ReasonPurge))
}
