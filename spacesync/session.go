package spacesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/facetspace/spacesync/protocol"
)

// Client session. Owns one connection's lifecycle and its single active
// subscription stream. State transitions are serialized by one mutex; the
// transport delivers messages asynchronously underneath.
//
// disconnected -> connecting -> connected
//   -> reconnecting -> connected       (transport recovered)
//   -> reconnecting -> failed          (retry budget exhausted, terminal)
//   -> disconnected                    (explicit teardown, terminal)
//
// The reconnect loop never restores a subscription. Callers remember their
// last subscribe options and resubscribe on the reconnected notification.

var ErrNotConnected = errors.New("not connected")

type ConnectionError struct {
	Op  string
	Err error
}

func (self *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s", self.Op, self.Err)
}

func (self *ConnectionError) Unwrap() error {
	return self.Err
}

type SessionState int

const (
	SessionStateDisconnected SessionState = 0
	SessionStateConnecting   SessionState = 1
	SessionStateConnected    SessionState = 2
	SessionStateReconnecting SessionState = 3
	SessionStateFailed       SessionState = 4
)

func (self SessionState) String() string {
	switch self {
	case SessionStateConnecting:
		return "connecting"
	case SessionStateConnected:
		return "connected"
	case SessionStateReconnecting:
		return "reconnecting"
	case SessionStateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

type SessionNotificationKind int

const (
	NotifyConnected       SessionNotificationKind = 1
	NotifyDisconnected    SessionNotificationKind = 2
	NotifyReconnected     SessionNotificationKind = 3
	NotifyReconnectFailed SessionNotificationKind = 4
	NotifyError           SessionNotificationKind = 5
)

func (self SessionNotificationKind) String() string {
	switch self {
	case NotifyConnected:
		return "connected"
	case NotifyDisconnected:
		return "disconnected"
	case NotifyReconnected:
		return "reconnected"
	case NotifyReconnectFailed:
		return "reconnect_failed"
	case NotifyError:
		return "error"
	default:
		return "unknown"
	}
}

type SessionNotification struct {
	Kind SessionNotificationKind
	// set for error notifications
	Err error
	// monotonic reconnect attempt counter at the time of the notification
	ReconnectAttempts int
}

type NotifyFunc func(notification *SessionNotification)

type SessionSettings struct {
	// absolute deadline for connect (dial plus readiness probe)
	ConnectTimeout time.Duration
	// fixed delay between reconnect attempts
	ReconnectTimeout time.Duration
	// 0 means unbounded
	MaxReconnectAttempts int
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		ConnectTimeout:       10 * time.Second,
		ReconnectTimeout:     5 * time.Second,
		MaxReconnectAttempts: 0,
	}
}

type EmitOptions struct {
	Source   *ComponentRef
	Priority Priority
	Sync     bool
	Metadata map[string]any
	// block until the resulting frame is committed
	WaitForFrame bool
}

func DefaultEmitOptions() *EmitOptions {
	return &EmitOptions{
		WaitForFrame: true,
	}
}

type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	dial     TransportDialFunc
	settings *SessionSettings

	notifyCallbacks CallbackList[NotifyFunc]

	mutex             sync.Mutex
	state             SessionState
	transport         Transport
	stream            DeltaStream
	streamGeneration  int
	reconnecting      bool
	reconnectAttempts int
}

func NewSessionWithDefaults(ctx context.Context, dial TransportDialFunc) *Session {
	return NewSession(ctx, dial, DefaultSessionSettings())
}

func NewSession(ctx context.Context, dial TransportDialFunc, settings *SessionSettings) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Session{
		ctx:      cancelCtx,
		cancel:   cancel,
		dial:     dial,
		settings: settings,
		state:    SessionStateDisconnected,
	}
}

// all observers receive every notification, in registration order.
// returns a remove capability.
func (self *Session) AddNotifyCallback(callback NotifyFunc) func() {
	return self.notifyCallbacks.Add(callback)
}

func (self *Session) notify(notification *SessionNotification) {
	glog.V(1).Infof("[session]notify %s\n", notification.Kind)
	for _, callback := range self.notifyCallbacks.Get() {
		c := callback
		HandleError(func() {
			c(notification)
		})
	}
}

func (self *Session) State() SessionState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

func (self *Session) Connected() bool {
	return self.State() == SessionStateConnected
}

// monotonic counter, incremented once per reconnect attempt
func (self *Session) ReconnectAttempts() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.reconnectAttempts
}

// Connect establishes the transport and blocks until it reports ready or the
// connect timeout elapses. On failure the session state is unchanged.
func (self *Session) Connect(ctx context.Context) error {
	self.mutex.Lock()
	switch self.state {
	case SessionStateConnected:
		self.mutex.Unlock()
		return nil
	case SessionStateConnecting:
		self.mutex.Unlock()
		return &ConnectionError{Op: "connect", Err: errors.New("connect already in progress")}
	case SessionStateReconnecting:
		// the reconnect loop owns the transport until it commits, fails
		// terminally, or is torn down by Disconnect
		self.mutex.Unlock()
		return &ConnectionError{Op: "connect", Err: errors.New("reconnect in progress")}
	}
	previousState := self.state
	self.state = SessionStateConnecting
	self.mutex.Unlock()

	transport, err := self.connectTransport(ctx)

	self.mutex.Lock()
	if self.state != SessionStateConnecting {
		// superseded by an explicit disconnect
		self.mutex.Unlock()
		if transport != nil {
			transport.Close()
		}
		return &ConnectionError{Op: "connect", Err: errors.New("superseded by disconnect")}
	}
	if err != nil {
		self.state = previousState
		self.mutex.Unlock()
		return &ConnectionError{Op: "connect", Err: err}
	}
	self.transport = transport
	self.state = SessionStateConnected
	self.mutex.Unlock()

	self.notify(&SessionNotification{Kind: NotifyConnected})
	return nil
}

func (self *Session) connectTransport(ctx context.Context) (Transport, error) {
	timeoutCtx, timeoutCancel := context.WithTimeout(ctx, self.settings.ConnectTimeout)
	defer timeoutCancel()

	var transport Transport
	var err error
	if glog.V(2) {
		transport, err = TraceWithReturnError("[session]dial", func() (Transport, error) {
			return self.dial(timeoutCtx)
		})
	} else {
		transport, err = self.dial(timeoutCtx)
	}
	if err != nil {
		return nil, err
	}
	if err := transport.Ready(timeoutCtx); err != nil {
		transport.Close()
		return nil, err
	}
	return transport, nil
}

func (self *Session) currentTransport() Transport {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.state != SessionStateConnected {
		return nil
	}
	return self.transport
}

// EmitEvent encodes one mutation event and issues the unary call.
func (self *Session) EmitEvent(ctx context.Context, topic string, payload any, options *EmitOptions) (*EmitResult, error) {
	if options == nil {
		options = DefaultEmitOptions()
	}
	event := &SpaceEvent{
		Topic:           topic,
		Source:          options.Source,
		Payload:         payload,
		TimestampMillis: time.Now().UnixMilli(),
		Priority:        options.Priority,
		Sync:            options.Sync,
		Metadata:        options.Metadata,
	}
	request := &protocol.EmitEvent{
		Event:        EncodeEvent(event),
		WaitForFrame: options.WaitForFrame,
	}
	return sessionCall(self, ctx, "emitEvent", request, DecodeEmitResult)
}

func (self *Session) Health(ctx context.Context) error {
	transport := self.currentTransport()
	if transport == nil {
		return ErrNotConnected
	}
	return transport.Ready(ctx)
}

func (self *Session) RegisterAgent(ctx context.Context, args *RegisterAgentArgs) (*RegisterAgentResult, error) {
	return sessionCall(self, ctx, "registerAgent", EncodeRegisterAgentArgs(args), DecodeRegisterAgentResult)
}

func (self *Session) GetContext(ctx context.Context, args *GetContextArgs) (*GetContextResult, error) {
	return sessionCall(self, ctx, "getContext", EncodeGetContextArgs(args), DecodeGetContextResult)
}

func (self *Session) CreateStream(ctx context.Context, args *CreateStreamArgs) (*CreateStreamResult, error) {
	return sessionCall(self, ctx, "createStream", EncodeCreateStreamArgs(args), func(wire *protocol.CreateStreamResult) *CreateStreamResult {
		return &CreateStreamResult{
			Success: wire.Success,
			Error:   wire.Error,
		}
	})
}

func (self *Session) GetStateSnapshot(ctx context.Context, args *GetStateSnapshotArgs) (*GetStateSnapshotResult, error) {
	return sessionCall(self, ctx, "getStateSnapshot", EncodeGetStateSnapshotArgs(args), DecodeGetStateSnapshotResult)
}

func (self *Session) GetFrames(ctx context.Context, args *GetFramesArgs) (*GetFramesResult, error) {
	return sessionCall(self, ctx, "getFrames", EncodeGetFramesArgs(args), DecodeGetFramesResult)
}

func (self *Session) ActivateAgent(ctx context.Context, args *ActivateAgentArgs) (*ActivateAgentResult, error) {
	return sessionCall(self, ctx, "activateAgent", EncodeActivateAgentArgs(args), func(wire *protocol.ActivateAgentResult) *ActivateAgentResult {
		return &ActivateAgentResult{
			Success:      wire.Success,
			ActivationId: wire.ActivationId,
			Error:        wire.Error,
		}
	})
}

func sessionCall[W any, R any](self *Session, ctx context.Context, op string, request any, decode func(W) R) (R, error) {
	var empty R
	transport := self.currentTransport()
	if transport == nil {
		// fail fast rather than queue while disconnected
		return empty, ErrNotConnected
	}
	frame, err := protocol.ToFrame(request)
	if err != nil {
		return empty, err
	}
	response, err := transport.Call(ctx, frame)
	if err != nil {
		return empty, &ConnectionError{Op: op, Err: err}
	}
	message, err := protocol.FromFrame(response)
	if err != nil {
		return empty, err
	}
	wire, ok := message.(W)
	if !ok {
		return empty, fmt.Errorf("unexpected %s response type: %T", op, message)
	}
	return decode(wire), nil
}

// Subscribe opens the session's single delta stream. A second subscribe
// replaces the prior stream. The returned unsubscribe capability cancels the
// stream idempotently; the caller never holds the stream itself.
func (self *Session) Subscribe(ctx context.Context, options *SubscribeOptions, callback DeltaFunc) (func(), error) {
	self.mutex.Lock()
	if self.state != SessionStateConnected || self.transport == nil {
		self.mutex.Unlock()
		return nil, ErrNotConnected
	}
	transport := self.transport
	if self.stream != nil {
		self.stream.Cancel()
		self.stream = nil
	}
	self.streamGeneration += 1
	generation := self.streamGeneration
	self.mutex.Unlock()

	frame, err := protocol.ToFrame(EncodeSubscribeOptions(options))
	if err != nil {
		return nil, err
	}
	stream, err := transport.OpenStream(ctx, frame)
	if err != nil {
		return nil, &ConnectionError{Op: "subscribe", Err: err}
	}

	self.mutex.Lock()
	if self.streamGeneration != generation || self.state != SessionStateConnected {
		// superseded by another subscribe or a disconnect
		self.mutex.Unlock()
		stream.Cancel()
		return nil, ErrNotConnected
	}
	self.stream = stream
	self.mutex.Unlock()

	go self.runStream(stream, callback)

	unsubscribe := func() {
		self.mutex.Lock()
		if self.stream == stream {
			self.stream = nil
		}
		self.mutex.Unlock()
		stream.Cancel()
	}
	return unsubscribe, nil
}

// runStream delivers deltas to the callback in transport order. One callback
// completes before the next message is processed; overlapping invocations
// for the same subscription cannot occur.
func (self *Session) runStream(stream DeltaStream, callback DeltaFunc) {
	for {
		frame, err := stream.Receive()
		if err != nil {
			if err == ErrStreamCanceled {
				// explicit cancellation is silent
				return
			}
			self.mutex.Lock()
			if self.stream == stream {
				self.stream = nil
			}
			unexpected := self.state == SessionStateConnected
			self.mutex.Unlock()
			if unexpected {
				glog.Infof("[session]stream error = %s\n", err)
				self.notify(&SessionNotification{Kind: NotifyError, Err: err})
				self.engageReconnect()
			}
			return
		}
		message, err := protocol.FromFrame(frame)
		if err != nil {
			glog.Infof("[session]stream decode error = %s\n", err)
			continue
		}
		wire, ok := message.(*protocol.FacetDelta)
		if !ok {
			glog.V(2).Infof("[session]stream unexpected message %T\n", message)
			continue
		}
		delta := DecodeDelta(wire)
		HandleError(func() {
			callback(delta)
		})
	}
}

// engageReconnect is triggered only by an unexpected stream or transport
// error, never by explicit cancellation.
func (self *Session) engageReconnect() {
	self.mutex.Lock()
	if self.reconnecting || self.state != SessionStateConnected {
		self.mutex.Unlock()
		return
	}
	self.reconnecting = true
	self.state = SessionStateReconnecting
	transport := self.transport
	self.transport = nil
	self.mutex.Unlock()

	if transport != nil {
		transport.Close()
	}
	go self.runReconnect()
}

func (self *Session) runReconnect() {
	retries := 0
	for {
		// cancellation is observed at the top of each iteration. an
		// in-progress delay below completes first, bounding teardown
		// latency to one retry interval.
		self.mutex.Lock()
		if !self.reconnecting {
			self.mutex.Unlock()
			return
		}
		self.reconnectAttempts += 1
		attempts := self.reconnectAttempts
		self.mutex.Unlock()

		retries += 1
		reconnect := NewReconnect(self.settings.ReconnectTimeout)

		transport, err := self.connectTransport(self.ctx)
		if err == nil {
			self.mutex.Lock()
			if !self.reconnecting {
				self.mutex.Unlock()
				transport.Close()
				return
			}
			self.reconnecting = false
			self.transport = transport
			self.state = SessionStateConnected
			self.mutex.Unlock()
			self.notify(&SessionNotification{
				Kind:              NotifyReconnected,
				ReconnectAttempts: attempts,
			})
			return
		}
		glog.Infof("[session]reconnect attempt %d error = %s\n", attempts, err)

		budget := self.settings.MaxReconnectAttempts
		if 0 < budget && budget <= retries {
			self.mutex.Lock()
			if !self.reconnecting {
				self.mutex.Unlock()
				return
			}
			self.reconnecting = false
			self.state = SessionStateFailed
			self.mutex.Unlock()
			self.notify(&SessionNotification{
				Kind:              NotifyReconnectFailed,
				ReconnectAttempts: attempts,
			})
			return
		}

		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

// Disconnect cancels the active subscription stream, closes the transport,
// and clears the reconnecting flag synchronously so a running reconnect loop
// observes cancellation on its next check. Idempotent.
func (self *Session) Disconnect() {
	self.mutex.Lock()
	if self.state == SessionStateDisconnected {
		self.mutex.Unlock()
		return
	}
	stream := self.stream
	self.stream = nil
	transport := self.transport
	self.transport = nil
	self.reconnecting = false
	self.state = SessionStateDisconnected
	self.mutex.Unlock()

	if stream != nil {
		stream.Cancel()
	}
	if transport != nil {
		transport.Close()
	}
	self.cancel()
	self.notify(&SessionNotification{Kind: NotifyDisconnected})
}
