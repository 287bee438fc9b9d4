package spacesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"

	"github.com/facetspace/spacesync/protocol"
)

// The server session dispatches inbound calls to an injected handler set and
// tracks per-client subscription lifetime. It hands the handlers decoded
// request data and encodes the pre-encode response data they return; the
// authority's business logic (delta computation, sequence assignment,
// replay) lives entirely behind the Handlers interface.

var ErrServerStopped = errors.New("server stopped")

type DeltaFunc func(delta *FacetDelta)

// Subscription is handed to the authority when a client subscribes.
// The authority calls Deliver for every matching delta, in emission order,
// and returns an unsubscribe capability.
type Subscription struct {
	ClientId string
	Options  *SubscribeOptions
	Deliver  DeltaFunc
}

type Handlers interface {
	Health(ctx context.Context) error
	EmitEvent(ctx context.Context, event *SpaceEvent, waitForFrame bool) (*EmitResult, error)
	// returns an unsubscribe capability. enforcing a single subscription
	// per client is the handler's policy, not this layer's.
	SubscribeToFacets(ctx context.Context, sub *Subscription) (func(), error)
	RegisterAgent(ctx context.Context, args *RegisterAgentArgs) (*RegisterAgentResult, error)
	GetContext(ctx context.Context, args *GetContextArgs) (*GetContextResult, error)
	CreateStream(ctx context.Context, args *CreateStreamArgs) (*CreateStreamResult, error)
	GetStateSnapshot(ctx context.Context, args *GetStateSnapshotArgs) (*GetStateSnapshotResult, error)
	GetFrames(ctx context.Context, args *GetFramesArgs) (*GetFramesResult, error)
	ActivateAgent(ctx context.Context, args *ActivateAgentArgs) (*ActivateAgentResult, error)
}

type ServerSettings struct {
	// outbound delta buffer per subscription
	DeliverBufferSize int
}

func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		DeliverBufferSize: 32,
	}
}

type Server struct {
	handlers Handlers
	settings *ServerSettings

	mutex sync.Mutex
	// client id -> cancel capability for the tracked subscription.
	// insert is last write wins, cancel is idempotent.
	subscriptions map[string]*subscriptionEntry
	stopped       bool
}

type subscriptionEntry struct {
	cancel func()
}

func NewServerWithDefaults(handlers Handlers) *Server {
	return NewServer(handlers, DefaultServerSettings())
}

func NewServer(handlers Handlers, settings *ServerSettings) *Server {
	return &Server{
		handlers:      handlers,
		settings:      settings,
		subscriptions: map[string]*subscriptionEntry{},
	}
}

// HandleCall dispatches one unary request frame and returns the response
// frame. Handler business failures ride inside result messages as structured
// error strings; an error return here is a call-level fault.
func (self *Server) HandleCall(ctx context.Context, clientId string, request *protocol.Frame) (*protocol.Frame, error) {
	self.mutex.Lock()
	stopped := self.stopped
	self.mutex.Unlock()
	if stopped {
		return nil, ErrServerStopped
	}

	message, err := protocol.FromFrame(request)
	if err != nil {
		return nil, err
	}

	switch v := message.(type) {
	case *protocol.Health:
		if err := self.handlers.Health(ctx); err != nil {
			return nil, err
		}
		return protocol.ToFrame(&protocol.HealthResult{Success: true})
	case *protocol.EmitEvent:
		result, err := self.handlers.EmitEvent(ctx, DecodeEvent(v.Event), v.WaitForFrame)
		if err != nil {
			return nil, err
		}
		glog.V(1).Infof("[s]emit %s seq=%d %s\n", clientId, result.Sequence, result.FrameUuid)
		return protocol.ToFrame(EncodeEmitResult(result))
	case *protocol.RegisterAgent:
		result, err := self.handlers.RegisterAgent(ctx, DecodeRegisterAgentArgs(v))
		if err != nil {
			return nil, err
		}
		return protocol.ToFrame(EncodeRegisterAgentResult(result))
	case *protocol.GetContext:
		result, err := self.handlers.GetContext(ctx, DecodeGetContextArgs(v))
		if err != nil {
			return nil, err
		}
		return protocol.ToFrame(EncodeGetContextResult(result))
	case *protocol.CreateStream:
		result, err := self.handlers.CreateStream(ctx, DecodeCreateStreamArgs(v))
		if err != nil {
			return nil, err
		}
		return protocol.ToFrame(&protocol.CreateStreamResult{
			Success: result.Success,
			Error:   result.Error,
		})
	case *protocol.GetStateSnapshot:
		result, err := self.handlers.GetStateSnapshot(ctx, DecodeGetStateSnapshotArgs(v))
		if err != nil {
			return nil, err
		}
		return protocol.ToFrame(EncodeGetStateSnapshotResult(result))
	case *protocol.GetFrames:
		result, err := self.handlers.GetFrames(ctx, DecodeGetFramesArgs(v))
		if err != nil {
			return nil, err
		}
		return protocol.ToFrame(EncodeGetFramesResult(result))
	case *protocol.ActivateAgent:
		result, err := self.handlers.ActivateAgent(ctx, DecodeActivateAgentArgs(v))
		if err != nil {
			return nil, err
		}
		return protocol.ToFrame(&protocol.ActivateAgentResult{
			Success:      result.Success,
			ActivationId: result.ActivationId,
			Error:        result.Error,
		})
	default:
		return nil, fmt.Errorf("unexpected unary message type: %T", v)
	}
}

// HandleSubscribe registers a subscription with the authority and pumps
// encoded deltas through send until the context ends, the transport fails,
// or the server stops. ready is called once, after the subscription is
// registered and before the first delta. A context canceled by the client is
// non-exceptional and returns nil; all other exits surface the cause at the
// call level.
func (self *Server) HandleSubscribe(
	ctx context.Context,
	clientId string,
	request *protocol.Frame,
	ready func(),
	send func(frame *protocol.Frame) error,
) error {
	self.mutex.Lock()
	if self.stopped {
		self.mutex.Unlock()
		return ErrServerStopped
	}
	self.mutex.Unlock()

	message, err := protocol.FromFrame(request)
	if err != nil {
		return err
	}
	subscribe, ok := message.(*protocol.SubscribeToFacets)
	if !ok {
		return fmt.Errorf("unexpected stream message type: %T", message)
	}

	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()

	deliver := make(chan *FacetDelta, self.settings.DeliverBufferSize)

	unsubscribe, err := self.handlers.SubscribeToFacets(handleCtx, &Subscription{
		ClientId: clientId,
		Options:  DecodeSubscribeOptions(subscribe),
		Deliver: func(delta *FacetDelta) {
			select {
			case deliver <- delta:
			case <-handleCtx.Done():
			}
		},
	})
	if err != nil {
		return err
	}

	unsubscribeOnce := sync.Once{}
	doUnsubscribe := func() {
		unsubscribeOnce.Do(func() {
			HandleError(unsubscribe)
		})
	}

	// last write wins. an existing entry for this client is replaced;
	// tearing down the previous handler-side subscription is the
	// handler's own replacement logic.
	entry := &subscriptionEntry{
		cancel: func() {
			doUnsubscribe()
			handleCancel()
		},
	}
	self.mutex.Lock()
	if self.stopped {
		self.mutex.Unlock()
		doUnsubscribe()
		return ErrServerStopped
	}
	self.subscriptions[clientId] = entry
	self.mutex.Unlock()

	defer func() {
		doUnsubscribe()
		self.mutex.Lock()
		// clean up only our own entry, not a replacement's
		if self.subscriptions[clientId] == entry {
			delete(self.subscriptions, clientId)
		}
		self.mutex.Unlock()
	}()

	glog.V(1).Infof("[s]subscribe %s\n", clientId)

	if ready != nil {
		ready()
	}

	for {
		select {
		case <-handleCtx.Done():
			// client cancel or server stop, filtered as non-exceptional
			glog.V(1).Infof("[s]unsubscribe %s\n", clientId)
			return nil
		case delta := <-deliver:
			frame, err := protocol.ToFrame(EncodeDelta(delta))
			if err != nil {
				glog.Infof("[s]delta encode error %s = %s\n", clientId, err)
				continue
			}
			if err := send(frame); err != nil {
				// transport error. unsubscribe and surface at the call level.
				glog.Infof("[s]send error %s = %s\n", clientId, err)
				return err
			}
		}
	}
}

// Stop proactively cancels every tracked subscription. No handler delta
// callback fires after Stop begins.
func (self *Server) Stop() {
	self.mutex.Lock()
	if self.stopped {
		self.mutex.Unlock()
		return
	}
	self.stopped = true
	entries := maps.Values(self.subscriptions)
	self.subscriptions = map[string]*subscriptionEntry{}
	self.mutex.Unlock()

	for _, entry := range entries {
		entry.cancel()
	}
}
