package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

// TestNATSPublisher_Publish tests subjects and payloads.
func TestNATSPublisher_Publish(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	s, err := sub.ChanSubscribe("orgchart.refresh.>", msgs)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	pub, err := Connect(server.ClientURL(), "orgchart", "test", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pub.Close()

	ev := Event{RunID: "run-1", Kind: KindCompleted, Reason: "manual", Employees: 42, At: time.Now().UTC()}
	require.NoError(t, pub.Publish(context.Background(), ev))

	select {
	case msg := <-msgs:
		assert.Equal(t, "orgchart.refresh.run-1.completed", msg.Subject)
		var got Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, 42, got.Employees)
		assert.Equal(t, "manual", got.Reason)
		assert.Equal(t, KindCompleted, got.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNATSPublisher_Validation(t *testing.T) {
	_, err := NewNATSPublisher(nil, "orgchart")
	assert.Error(t, err)

	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	_, err = NewNATSPublisher(nc, "")
	assert.Error(t, err)

	pub, err := NewNATSPublisher(nc, "hr")
	require.NoError(t, err)
	assert.Error(t, pub.Publish(context.Background(), Event{Kind: KindStarted}))
	assert.Equal(t, "hr.refresh.abc.failed", pub.Subject(Event{RunID: "abc", Kind: KindFailed}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, Event{RunID: "x", Kind: KindStarted}), context.Canceled)

	assert.NoError(t, pub.Close(), "borrowed connections are left open")
	assert.True(t, nc.IsConnected())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
}
