package spacesync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/facetspace/spacesync/protocol"
)

// testHandlers is a scripted authority. Emit assigns sequences from a seeded
// counter and fans the resulting delta out to the tracked subscription.
type testHandlers struct {
	mutex            sync.Mutex
	sequence         uint64
	frameCount       int
	subscription     *Subscription
	unsubscribeCount int
	healthErr        error
}

func (self *testHandlers) Health(ctx context.Context) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.healthErr
}

func (self *testHandlers) EmitEvent(ctx context.Context, event *SpaceEvent, waitForFrame bool) (*EmitResult, error) {
	self.mutex.Lock()
	self.sequence += 1
	self.frameCount += 1
	sequence := self.sequence
	frameUuid := fmt.Sprintf("f-%d", self.frameCount)
	subscription := self.subscription
	self.mutex.Unlock()

	facet := &Facet{
		Id:   "n1",
		Type: "note",
	}
	if payload, ok := event.Payload.(map[string]any); ok {
		if text, ok := payload["text"].(string); ok {
			facet.Content = text
		}
	}
	delta := &FacetDelta{
		Kind:      DeltaKindAdded,
		Facet:     facet,
		Sequence:  sequence,
		FrameUuid: frameUuid,
	}
	if subscription != nil {
		subscription.Deliver(delta)
	}
	return &EmitResult{
		Success:   true,
		Sequence:  sequence,
		FrameUuid: frameUuid,
		Deltas:    []*FacetDelta{delta},
	}, nil
}

func (self *testHandlers) SubscribeToFacets(ctx context.Context, sub *Subscription) (func(), error) {
	self.mutex.Lock()
	self.subscription = sub
	self.mutex.Unlock()
	return func() {
		self.mutex.Lock()
		if self.subscription == sub {
			self.subscription = nil
		}
		self.unsubscribeCount += 1
		self.mutex.Unlock()
	}, nil
}

func (self *testHandlers) RegisterAgent(ctx context.Context, args *RegisterAgentArgs) (*RegisterAgentResult, error) {
	return &RegisterAgentResult{
		AgentId:      args.AgentId,
		SessionToken: "token-" + args.AgentId,
		Success:      true,
	}, nil
}

func (self *testHandlers) GetContext(ctx context.Context, args *GetContextArgs) (*GetContextResult, error) {
	return &GetContextResult{
		ContextBytes: []byte(`{"frames":[]}`),
		TokenCount:   128,
		FrameCount:   3,
	}, nil
}

func (self *testHandlers) CreateStream(ctx context.Context, args *CreateStreamArgs) (*CreateStreamResult, error) {
	return &CreateStreamResult{
		Success: true,
	}, nil
}

func (self *testHandlers) GetStateSnapshot(ctx context.Context, args *GetStateSnapshotArgs) (*GetStateSnapshotResult, error) {
	self.mutex.Lock()
	sequence := self.sequence
	self.mutex.Unlock()
	return &GetStateSnapshotResult{
		Sequence: sequence,
		Facets: []*Facet{
			{Id: "n1", Type: "note"},
		},
	}, nil
}

func (self *testHandlers) GetFrames(ctx context.Context, args *GetFramesArgs) (*GetFramesResult, error) {
	self.mutex.Lock()
	sequence := self.sequence
	self.mutex.Unlock()
	return &GetFramesResult{
		CurrentSequence: sequence,
	}, nil
}

func (self *testHandlers) ActivateAgent(ctx context.Context, args *ActivateAgentArgs) (*ActivateAgentResult, error) {
	return &ActivateAgentResult{
		Success:      true,
		ActivationId: "act-1",
	}, nil
}

func (self *testHandlers) Subscription() *Subscription {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.subscription
}

func (self *testHandlers) UnsubscribeCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.unsubscribeCount
}

func waitFor(t *testing.T, condition func() bool) {
	end := time.Now().Add(5 * time.Second)
	for time.Now().Before(end) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestServerDispatch(t *testing.T) {
	ctx := context.Background()
	handlers := &testHandlers{}
	server := NewServerWithDefaults(handlers)

	response, err := server.HandleCall(ctx, "client-1", protocol.RequireToFrame(&protocol.Health{}))
	assert.Equal(t, err, nil)
	health := protocol.RequireFromFrame(response).(*protocol.HealthResult)
	assert.Equal(t, health.Success, true)

	response, err = server.HandleCall(ctx, "client-1", protocol.RequireToFrame(&protocol.EmitEvent{
		Event: &protocol.SpaceEvent{
			Topic:       "note.create",
			PayloadJson: []byte(`{"text":"hi"}`),
		},
		WaitForFrame: true,
	}))
	assert.Equal(t, err, nil)
	emit := DecodeEmitResult(protocol.RequireFromFrame(response).(*protocol.EmitEventResult))
	assert.Equal(t, emit.Success, true)
	assert.Equal(t, emit.Sequence, uint64(1))
	assert.Equal(t, emit.FrameUuid, "f-1")
	assert.Equal(t, len(emit.Deltas), 1)
	assert.Equal(t, emit.Deltas[0].Facet.Content, "hi")

	response, err = server.HandleCall(ctx, "client-1", protocol.RequireToFrame(&protocol.RegisterAgent{
		AgentId: "agent-1",
	}))
	assert.Equal(t, err, nil)
	register := protocol.RequireFromFrame(response).(*protocol.RegisterAgentResult)
	assert.Equal(t, register.SessionToken, "token-agent-1")

	response, err = server.HandleCall(ctx, "client-1", protocol.RequireToFrame(&protocol.GetContext{
		AgentId: "agent-1",
	}))
	assert.Equal(t, err, nil)
	getContext := protocol.RequireFromFrame(response).(*protocol.GetContextResult)
	assert.Equal(t, getContext.TokenCount, int32(128))

	response, err = server.HandleCall(ctx, "client-1", protocol.RequireToFrame(&protocol.CreateStream{
		StreamId: "s1",
	}))
	assert.Equal(t, err, nil)
	createStream := protocol.RequireFromFrame(response).(*protocol.CreateStreamResult)
	assert.Equal(t, createStream.Success, true)

	response, err = server.HandleCall(ctx, "client-1", protocol.RequireToFrame(&protocol.GetStateSnapshot{}))
	assert.Equal(t, err, nil)
	snapshot := protocol.RequireFromFrame(response).(*protocol.GetStateSnapshotResult)
	assert.Equal(t, snapshot.Sequence, uint64(1))
	assert.Equal(t, len(snapshot.Facets), 1)

	response, err = server.HandleCall(ctx, "client-1", protocol.RequireToFrame(&protocol.GetFrames{}))
	assert.Equal(t, err, nil)
	frames := protocol.RequireFromFrame(response).(*protocol.GetFramesResult)
	assert.Equal(t, frames.CurrentSequence, uint64(1))

	response, err = server.HandleCall(ctx, "client-1", protocol.RequireToFrame(&protocol.ActivateAgent{
		AgentId: "agent-1",
	}))
	assert.Equal(t, err, nil)
	activate := protocol.RequireFromFrame(response).(*protocol.ActivateAgentResult)
	assert.Equal(t, activate.ActivationId, "act-1")
}

func TestServerDispatchNonUnary(t *testing.T) {
	ctx := context.Background()
	server := NewServerWithDefaults(&testHandlers{})

	// stream-only messages are rejected at the unary entry point
	_, err := server.HandleCall(ctx, "client-1", protocol.RequireToFrame(&protocol.FacetDelta{}))
	assert.NotEqual(t, err, nil)
}

func TestServerSubscribeLifecycle(t *testing.T) {
	handlers := &testHandlers{}
	server := NewServerWithDefaults(handlers)

	subscribeCtx, subscribeCancel := context.WithCancel(context.Background())
	defer subscribeCancel()

	ready := make(chan struct{})
	sent := make(chan *protocol.Frame, 16)
	result := make(chan error, 1)
	go func() {
		result <- server.HandleSubscribe(
			subscribeCtx,
			"client-1",
			protocol.RequireToFrame(&protocol.SubscribeToFacets{}),
			func() {
				close(ready)
			},
			func(frame *protocol.Frame) error {
				sent <- frame
				return nil
			},
		)
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for subscription")
	}

	handlers.Subscription().Deliver(&FacetDelta{
		Kind:      DeltaKindAdded,
		Facet:     &Facet{Id: "n1"},
		Sequence:  1,
		FrameUuid: "f-1",
	})

	select {
	case frame := <-sent:
		delta := DecodeDelta(protocol.RequireFromFrame(frame).(*protocol.FacetDelta))
		assert.Equal(t, delta.Sequence, uint64(1))
		assert.Equal(t, delta.Facet.Id, "n1")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for delta")
	}

	// a client cancel is non-exceptional
	subscribeCancel()
	select {
	case err := <-result:
		assert.Equal(t, err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for subscribe exit")
	}
	assert.Equal(t, handlers.UnsubscribeCount(), 1)
}

func TestServerSubscribeReplace(t *testing.T) {
	handlers := &testHandlers{}
	server := NewServerWithDefaults(handlers)

	runSubscribe := func(ctx context.Context) chan error {
		ready := make(chan struct{})
		result := make(chan error, 1)
		go func() {
			result <- server.HandleSubscribe(
				ctx,
				"client-1",
				protocol.RequireToFrame(&protocol.SubscribeToFacets{}),
				func() {
					close(ready)
				},
				func(frame *protocol.Frame) error {
					return nil
				},
			)
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for subscription")
		}
		return result
	}

	firstCtx, firstCancel := context.WithCancel(context.Background())
	defer firstCancel()
	first := runSubscribe(firstCtx)

	secondCtx, secondCancel := context.WithCancel(context.Background())
	defer secondCancel()
	second := runSubscribe(secondCtx)

	// ending the replaced subscription must not untrack the replacement
	firstCancel()
	select {
	case err := <-first:
		assert.Equal(t, err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for first exit")
	}
	assert.Equal(t, handlers.UnsubscribeCount(), 1)

	// stop cancels the still-tracked replacement
	server.Stop()
	select {
	case err := <-second:
		assert.Equal(t, err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for second exit")
	}
	waitFor(t, func() bool {
		return handlers.UnsubscribeCount() == 2
	})
}

func TestServerStop(t *testing.T) {
	ctx := context.Background()
	handlers := &testHandlers{}
	server := NewServerWithDefaults(handlers)

	ready := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- server.HandleSubscribe(
			ctx,
			"client-1",
			protocol.RequireToFrame(&protocol.SubscribeToFacets{}),
			func() {
				close(ready)
			},
			func(frame *protocol.Frame) error {
				return nil
			},
		)
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for subscription")
	}

	server.Stop()
	// idempotent
	server.Stop()

	select {
	case err := <-result:
		assert.Equal(t, err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for subscribe exit")
	}
	waitFor(t, func() bool {
		return handlers.UnsubscribeCount() == 1
	})

	_, err := server.HandleCall(ctx, "client-1", protocol.RequireToFrame(&protocol.Health{}))
	assert.Equal(t, err, ErrServerStopped)

	err = server.HandleSubscribe(ctx, "client-1", protocol.RequireToFrame(&protocol.SubscribeToFacets{}), nil, nil)
	assert.Equal(t, err, ErrServerStopped)
}
