package spacesync

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/facetspace/spacesync/protocol"
)

func newTestWsServer(t *testing.T, handlers Handlers) (TransportDialFunc, func()) {
	server := NewServerWithDefaults(handlers)
	httpServer := httptest.NewServer(NewWsHandlerWithDefaults(context.Background(), server))
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	return NewWsDialer(url, DefaultWsTransportSettings()), func() {
		server.Stop()
		httpServer.Close()
	}
}

func TestWsTransportCall(t *testing.T) {
	ctx := context.Background()
	dial, shutdown := newTestWsServer(t, &testHandlers{})
	defer shutdown()

	transport, err := dial(ctx)
	assert.Equal(t, err, nil)
	defer transport.Close()

	err = transport.Ready(ctx)
	assert.Equal(t, err, nil)

	response, err := transport.Call(ctx, protocol.RequireToFrame(&protocol.RegisterAgent{
		AgentId: "agent-1",
	}))
	assert.Equal(t, err, nil)
	result := protocol.RequireFromFrame(response).(*protocol.RegisterAgentResult)
	assert.Equal(t, result.SessionToken, "token-agent-1")
}

func TestWsTransportStreamCancel(t *testing.T) {
	ctx := context.Background()
	handlers := &testHandlers{}
	dial, shutdown := newTestWsServer(t, handlers)
	defer shutdown()

	transport, err := dial(ctx)
	assert.Equal(t, err, nil)
	defer transport.Close()

	stream, err := transport.OpenStream(ctx, protocol.RequireToFrame(&protocol.SubscribeToFacets{}))
	assert.Equal(t, err, nil)

	stream.Cancel()
	// idempotent
	stream.Cancel()

	_, err = stream.Receive()
	assert.Equal(t, err, ErrStreamCanceled)

	// the cancel propagates and releases the server-side subscription
	waitFor(t, func() bool {
		return handlers.UnsubscribeCount() == 1
	})
}

func TestWsTransportClose(t *testing.T) {
	ctx := context.Background()
	dial, shutdown := newTestWsServer(t, &testHandlers{})
	defer shutdown()

	transport, err := dial(ctx)
	assert.Equal(t, err, nil)

	stream, err := transport.OpenStream(ctx, protocol.RequireToFrame(&protocol.SubscribeToFacets{}))
	assert.Equal(t, err, nil)

	transport.Close()
	// idempotent
	transport.Close()

	// a closed transport fails streams and calls with the transport error
	_, err = stream.Receive()
	assert.NotEqual(t, err, nil)
	assert.NotEqual(t, err, ErrStreamCanceled)

	_, err = transport.Call(ctx, protocol.RequireToFrame(&protocol.Health{}))
	assert.NotEqual(t, err, nil)
}

func TestWsSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	handlers := &testHandlers{
		sequence: 41,
	}
	dial, shutdown := newTestWsServer(t, handlers)
	defer shutdown()

	session := NewSessionWithDefaults(ctx, dial)
	defer session.Disconnect()

	err := session.Connect(ctx)
	assert.Equal(t, err, nil)

	deltas := make(chan *FacetDelta, 16)
	unsubscribe, err := session.Subscribe(ctx, &SubscribeOptions{
		FacetTypes: []string{"note"},
	}, func(delta *FacetDelta) {
		deltas <- delta
	})
	assert.Equal(t, err, nil)

	result, err := session.EmitEvent(ctx, "note.create", map[string]any{"text": "hi"}, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Sequence, uint64(42))
	assert.Equal(t, result.FrameUuid, "f-1")

	select {
	case delta := <-deltas:
		assert.Equal(t, delta.Sequence, uint64(42))
		assert.Equal(t, delta.Facet.Content, "hi")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for delta")
	}

	unsubscribe()
	waitFor(t, func() bool {
		return handlers.UnsubscribeCount() == 1
	})

	session.Disconnect()
	assert.Equal(t, session.State(), SessionStateDisconnected)
}
