package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/outreachd/internal/events"
	"github.com/fyrsmithlabs/outreachd/internal/mode"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
)

func startNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func connect(t *testing.T, srv *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

// respond answers every request on subject with reply.
func respond(t *testing.T, nc *nats.Conn, subject string, reply any, seen chan<- []byte) {
	t.Helper()
	data, err := json.Marshal(reply)
	require.NoError(t, err)
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		if seen != nil {
			seen <- m.Data
		}
		_ = m.Respond(data)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, nc.Flush())
}

func TestOutboxSender(t *testing.T) {
	srv := startNATS(t)
	worker := connect(t, srv)
	sender := NewOutboxSender(connect(t, srv))
	msg := sequencer.Message{SequenceID: "s1", LeadID: "l1", Channel: policy.ChannelEmail, Recipient: "a@b.example", Body: "hi"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	t.Run("no worker", func(t *testing.T) {
		short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		out, err := sender.Send(short, msg)
		require.Error(t, err)
		assert.Equal(t, sequencer.OutcomeFailed, out)
	})

	seen := make(chan []byte, 1)
	respond(t, worker, OutboxSubjectPrefix+"email", OutboxReply{Outcome: sequencer.OutcomeBounced}, seen)
	respond(t, worker, OutboxSubjectPrefix+"sms", OutboxReply{Outcome: "lost"}, nil)

	t.Run("worker outcome is returned", func(t *testing.T) {
		out, err := sender.Send(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, sequencer.OutcomeBounced, out)

		var got sequencer.Message
		require.NoError(t, json.Unmarshal(<-seen, &got))
		assert.Equal(t, "s1", got.SequenceID)
		assert.Equal(t, "a@b.example", got.Recipient)
	})

	t.Run("unknown outcome fails", func(t *testing.T) {
		sms := msg
		sms.Channel = policy.ChannelSMS
		out, err := sender.Send(ctx, sms)
		require.Error(t, err)
		assert.Equal(t, sequencer.OutcomeFailed, out)
	})
}

func TestNATSApprover(t *testing.T) {
	srv := startNATS(t)
	reviewer := connect(t, srv)
	seen := make(chan []byte, 1)
	respond(t, reviewer, ApprovalSubject, ApprovalReply{Approved: true}, seen)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := NewNATSApprover(connect(t, srv)).Approve(ctx, mode.ApprovalRequest{CampaignID: "c1", SequenceID: "s1", TouchIndex: 2})
	require.NoError(t, err)
	assert.True(t, ok)

	var req map[string]any
	require.NoError(t, json.Unmarshal(<-seen, &req))
	assert.Equal(t, "c1", req["campaign_id"])
	assert.EqualValues(t, 2, req["touch_index"])
}

func TestSinkPager(t *testing.T) {
	sink := &events.MemorySink{}
	p := NewSinkPager(sink, nil)
	require.NoError(t, p.Page(context.Background(), mode.Alert{CampaignID: "c1", Severity: "warning", Summary: "blocked: quiet hours", At: start}))

	got := sink.OfType(events.TypeIncident)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].CampaignID)
	assert.Equal(t, "blocked: quiet hours", got[0].Data["summary"])
}

func TestBuild_WithNATS(t *testing.T) {
	srv := startNATS(t)
	cfg := memoryConfig()
	cfg.NATS.URL = srv.ClientURL()

	reg, err := Build(context.Background(), cfg, BuildOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	assert.IsType(t, &events.AsyncSink{}, reg.Sink())
	check, ok := reg.HealthChecks()["nats"]
	require.True(t, ok)
	assert.NoError(t, check(context.Background()))

	sub := connect(t, srv)
	got := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("outreach.>", got)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	c, err := reg.Campaigns().Create(context.Background(), usCampaign())
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, "outreach."+c.ID+"."+events.TypeCampaignCreated, m.Subject)
	case <-time.After(3 * time.Second):
		t.Fatal("campaign_created event was not published")
	}
}
