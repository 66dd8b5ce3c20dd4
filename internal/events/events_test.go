package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
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

func TestEvent_Subject(t *testing.T) {
	assert.Equal(t, "outreach.c1.touch_sent", Event{CampaignID: "c1", Type: TypeTouchSent}.Subject())
	assert.Equal(t, "outreach._.incident", Event{Type: TypeIncident}.Subject())
	assert.Equal(t, "outreach.a_b_c.x", Event{CampaignID: "a.b*c", Type: "x"}.Subject())
}

func TestAsyncSink_PublishesToNATS(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("outreach.c1.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	sink := NewAsyncSink(NewNATSPublisher(nc))
	sink.Record(Event{Type: TypeTouchSent, CampaignID: "c1", LeadID: "l1", Data: map[string]any{"touch": 0}})
	sink.Close()
	require.NoError(t, nc.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "outreach.c1.touch_sent", msg.Subject)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "l1", got.LeadID)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.At.IsZero())
}

type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (b *blockingPublisher) Publish(ctx context.Context, _ string, _ []byte) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
	return nil
}

func TestAsyncSink_RecordNeverBlocks(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	sink := NewAsyncSink(pub, WithBuffer(2), WithPublishTimeout(time.Minute))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			sink.Record(Event{Type: TypeTouchSent})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled publisher")
	}

	close(pub.release)
	sink.Close()
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.LessOrEqual(t, pub.count, 3)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte) error { return errors.New("down") }

func TestAsyncSink_PublishErrorsAreSwallowed(t *testing.T) {
	sink := NewAsyncSink(failingPublisher{})
	sink.Record(Event{Type: TypeIncident})
	sink.Close()
}

func TestMemorySink(t *testing.T) {
	var m MemorySink
	m.Record(Event{Type: TypeTouchSent})
	m.Record(Event{Type: TypeReplyReceived})
	m.Record(Event{Type: TypeTouchSent})

	assert.Len(t, m.Events(), 3)
	assert.Len(t, m.OfType(TypeTouchSent), 2)
}
