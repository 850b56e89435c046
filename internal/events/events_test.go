package events_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/internal/events"
)

type recorder struct {
	got []events.Event
	err error
}

func (r *recorder) Publish(_ context.Context, evt events.Event) error {
	r.got = append(r.got, evt)
	return r.err
}

func TestFanout(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: fmt.Errorf("broker down")}
	f := events.NewFanout().Add("ok", ok).Add("failing", failing).Add("nil", nil)

	evt := events.New(events.ParcelCreated, "PARCEL-1-1", "gov-1", nil)
	err := f.Publish(context.Background(), evt)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	require.Len(t, ok.got, 1)
	assert.Equal(t, evt.ID, ok.got[0].ID)
	assert.Len(t, failing.got, 1)
}

func TestEmitSwallowsErrors(t *testing.T) {
	r := &recorder{err: fmt.Errorf("nope")}
	events.Emit(context.Background(), r, zap.NewNop(), events.New(events.ListingCreated, "P", "u", nil))
	events.Emit(context.Background(), nil, zap.NewNop(), events.New(events.ListingCreated, "P", "u", nil))
	assert.Len(t, r.got, 1)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

type blockingPublisher struct{}

func (blockingPublisher) Publish(ctx context.Context, _ events.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEmitIsBounded(t *testing.T) {
	old := events.PublishTimeout
	events.PublishTimeout = 50 * time.Millisecond
	defer func() { events.PublishTimeout = old }()

	start := time.Now()
	events.Emit(context.Background(), blockingPublisher{}, zap.NewNop(), events.New(events.ParcelUpdated, "P-1", "gov-1", nil))
	assert.Less(t, time.Since(start), time.Second)
}

func TestKafkaAsyncDoesNotWaitForBroker(t *testing.T) {
	k := events.NewKafka(events.KafkaConfig{
		Brokers:      []string{"127.0.0.1:1"},
		Async:        true,
		MaxAttempts:  1,
		BatchTimeout: time.Millisecond,
	}, zap.NewNop())

	start := time.Now()
	for i := 0; i < 5; i++ {
		err := k.Publish(context.Background(), events.New(events.ListingCreated, "P-1", "user-1", nil))
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	_ = k.Close()
}

func TestKafkaSyncReportsUnreachableBroker(t *testing.T) {
	k := events.NewKafka(events.KafkaConfig{
		Brokers:      []string{"127.0.0.1:1"},
		MaxAttempts:  1,
		BatchTimeout: time.Millisecond,
	}, zap.NewNop())
	defer k.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := k.Publish(ctx, events.New(events.ListingCreated, "P-1", "user-1", nil))
	assert.Error(t, err)
}

func TestHubBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(nil, zap.NewNop())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	all := dial(t, srv, "/")
	defer all.Close()
	onlyListings := dial(t, srv, "/?types=listing.created")
	defer onlyListings.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, events.New(events.ParcelCreated, "PARCEL-1-1", "gov", nil)))
	require.NoError(t, hub.Publish(ctx, events.New(events.ListingCreated, "PARCEL-1-1", "owner", nil)))

	read := func(conn *websocket.Conn) events.Event {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var evt events.Event
		require.NoError(t, json.Unmarshal(data, &evt))
		return evt
	}

	assert.Equal(t, events.ParcelCreated, read(all).Type)
	assert.Equal(t, events.ListingCreated, read(all).Type)
	assert.Equal(t, events.ListingCreated, read(onlyListings).Type)
}
