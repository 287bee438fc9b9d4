package spacesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/facetspace/spacesync/protocol"
)

// The transport boundary. A transport provides a unary call, a
// server-streaming call, and a readiness probe with a deadline, all carrying
// the protocol.Frame envelope. The session layer owns reconnect policy; a
// transport instance is single-use and is replaced after failure.

var ErrTransportClosed = errors.New("transport closed")
var ErrStreamCanceled = errors.New("stream canceled")

type Transport interface {
	// readiness/health probe, bounded by the context deadline
	Ready(ctx context.Context) error
	Call(ctx context.Context, request *protocol.Frame) (*protocol.Frame, error)
	OpenStream(ctx context.Context, request *protocol.Frame) (DeltaStream, error)
	Close()
}

// ordered sequence of frames until explicit cancel or natural end
type DeltaStream interface {
	Receive() (*protocol.Frame, error)
	// idempotent. after cancel, Receive returns ErrStreamCanceled.
	Cancel()
}

// (ctx) -> transport, called by the session on connect and on each
// reconnect attempt
type TransportDialFunc func(ctx context.Context) (Transport, error)

type WsTransportSettings struct {
	WsHandshakeTimeout time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	StreamBufferSize   int
}

func DefaultWsTransportSettings() *WsTransportSettings {
	return &WsTransportSettings{
		WsHandshakeTimeout: 2 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		StreamBufferSize:   32,
	}
}

// NewWsDialer returns a dial function for the coordinator at the given url.
func NewWsDialer(url string, settings *WsTransportSettings) TransportDialFunc {
	return func(ctx context.Context) (Transport, error) {
		dialer := &websocket.Dialer{
			HandshakeTimeout: settings.WsHandshakeTimeout,
		}
		ws, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		// the dial context carries the connect deadline. the transport
		// itself outlives it.
		return NewWsTransport(context.WithoutCancel(ctx), ws, settings), nil
	}
}

type WsTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	ws       *websocket.Conn
	settings *WsTransportSettings

	send chan []byte

	mutex         sync.Mutex
	nextRequestId uint64
	pending       map[uint64]chan *protocol.Envelope
	streams       map[uint64]*wsStream
	closeErr      error
}

func NewWsTransport(ctx context.Context, ws *websocket.Conn, settings *WsTransportSettings) *WsTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &WsTransport{
		ctx:      cancelCtx,
		cancel:   cancel,
		ws:       ws,
		settings: settings,
		send:     make(chan []byte, TransportBufferSize),
		pending:  map[uint64]chan *protocol.Envelope{},
		streams:  map[uint64]*wsStream{},
	}
	go transport.runWrite()
	go transport.runRead()
	return transport
}

const TransportBufferSize = 1

func (self *WsTransport) runWrite() {
	defer self.closeWithError(ErrTransportClosed)

	for {
		select {
		case <-self.ctx.Done():
			return
		case message, ok := <-self.send:
			if !ok {
				return
			}
			self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
				// a websocket deadline timeout cannot be recovered
				glog.Infof("[ws]-> error = %s\n", err)
				self.closeWithError(err)
				return
			}
		case <-time.After(self.settings.PingTimeout):
			// zero-length message keepalive
			self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
				self.closeWithError(err)
				return
			}
		}
	}
}

func (self *WsTransport) runRead() {
	defer self.closeWithError(ErrTransportClosed)

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			glog.Infof("[ws]<- error = %s\n", err)
			self.closeWithError(err)
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			if len(message) == 0 {
				// ping
				continue
			}
			envelope, err := protocol.DecodeEnvelope(message)
			if err != nil {
				glog.Infof("[ws]<- bad envelope = %s\n", err)
				continue
			}
			self.route(envelope)
		default:
			glog.V(2).Infof("[ws]<- other=%d\n", messageType)
		}
	}
}

func (self *WsTransport) route(envelope *protocol.Envelope) {
	switch envelope.Kind {
	case protocol.EnvelopeKindResponse:
		self.mutex.Lock()
		pending, ok := self.pending[envelope.RequestId]
		delete(self.pending, envelope.RequestId)
		self.mutex.Unlock()
		if ok {
			pending <- envelope
		}
	case protocol.EnvelopeKindStreamMessage, protocol.EnvelopeKindStreamEnd:
		self.mutex.Lock()
		stream, ok := self.streams[envelope.RequestId]
		if envelope.Kind == protocol.EnvelopeKindStreamEnd {
			delete(self.streams, envelope.RequestId)
		}
		self.mutex.Unlock()
		if ok {
			stream.route(envelope)
		}
	default:
		glog.V(2).Infof("[ws]<- unexpected envelope kind=%d\n", envelope.Kind)
	}
}

func (self *WsTransport) writeEnvelope(ctx context.Context, envelope *protocol.Envelope) error {
	message, err := protocol.EncodeEnvelope(envelope)
	if err != nil {
		return err
	}
	select {
	case <-self.ctx.Done():
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	case self.send <- message:
		return nil
	}
}

func (self *WsTransport) Ready(ctx context.Context) error {
	response, err := self.Call(ctx, protocol.RequireToFrame(&protocol.Health{}))
	if err != nil {
		return err
	}
	message, err := protocol.FromFrame(response)
	if err != nil {
		return err
	}
	result, ok := message.(*protocol.HealthResult)
	if !ok || !result.Success {
		return fmt.Errorf("health probe failed")
	}
	return nil
}

func (self *WsTransport) Call(ctx context.Context, request *protocol.Frame) (*protocol.Frame, error) {
	self.mutex.Lock()
	if self.closeErr != nil {
		err := self.closeErr
		self.mutex.Unlock()
		return nil, err
	}
	self.nextRequestId += 1
	requestId := self.nextRequestId
	pending := make(chan *protocol.Envelope, 1)
	self.pending[requestId] = pending
	self.mutex.Unlock()

	defer func() {
		self.mutex.Lock()
		delete(self.pending, requestId)
		self.mutex.Unlock()
	}()

	err := self.writeEnvelope(ctx, &protocol.Envelope{
		Kind:      protocol.EnvelopeKindRequest,
		RequestId: requestId,
		Frame:     request,
	})
	if err != nil {
		return nil, err
	}

	select {
	case <-self.ctx.Done():
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case envelope := <-pending:
		if envelope.Error != "" {
			return nil, errors.New(envelope.Error)
		}
		return envelope.Frame, nil
	}
}

func (self *WsTransport) OpenStream(ctx context.Context, request *protocol.Frame) (DeltaStream, error) {
	self.mutex.Lock()
	if self.closeErr != nil {
		err := self.closeErr
		self.mutex.Unlock()
		return nil, err
	}
	self.nextRequestId += 1
	requestId := self.nextRequestId
	ack := make(chan *protocol.Envelope, 1)
	self.pending[requestId] = ack
	stream := newWsStream(self, requestId, self.settings.StreamBufferSize)
	self.streams[requestId] = stream
	self.mutex.Unlock()

	unregister := func() {
		self.mutex.Lock()
		delete(self.pending, requestId)
		delete(self.streams, requestId)
		self.mutex.Unlock()
	}

	err := self.writeEnvelope(ctx, &protocol.Envelope{
		Kind:      protocol.EnvelopeKindStreamOpen,
		RequestId: requestId,
		Frame:     request,
	})
	if err != nil {
		unregister()
		return nil, err
	}

	// the subscription is acknowledged before the first stream message
	select {
	case <-self.ctx.Done():
		unregister()
		return nil, ErrTransportClosed
	case <-ctx.Done():
		unregister()
		return nil, ctx.Err()
	case envelope := <-ack:
		if envelope.Error != "" {
			unregister()
			return nil, errors.New(envelope.Error)
		}
		return stream, nil
	}
}

func (self *WsTransport) closeWithError(err error) {
	self.mutex.Lock()
	if self.closeErr == nil {
		self.closeErr = err
	}
	pending := self.pending
	streams := self.streams
	self.pending = map[uint64]chan *protocol.Envelope{}
	self.streams = map[uint64]*wsStream{}
	closeErr := self.closeErr
	self.mutex.Unlock()

	self.cancel()
	self.ws.Close()

	for _, c := range pending {
		c <- &protocol.Envelope{Error: closeErr.Error()}
	}
	for _, stream := range streams {
		stream.fail(closeErr)
	}
}

func (self *WsTransport) Close() {
	self.closeWithError(ErrTransportClosed)
}

type wsStream struct {
	transport *WsTransport
	requestId uint64

	receive chan *protocol.Envelope
	done    chan struct{}

	cancelOnce sync.Once

	mutex sync.Mutex
	err   error
}

func newWsStream(transport *WsTransport, requestId uint64, bufferSize int) *wsStream {
	return &wsStream{
		transport: transport,
		requestId: requestId,
		receive:   make(chan *protocol.Envelope, bufferSize),
		done:      make(chan struct{}),
	}
}

func (self *wsStream) route(envelope *protocol.Envelope) {
	if envelope.Kind == protocol.EnvelopeKindStreamEnd {
		if envelope.Error != "" {
			self.fail(errors.New(envelope.Error))
		} else {
			// natural end
			self.fail(io.EOF)
		}
		return
	}
	select {
	case self.receive <- envelope:
	case <-self.done:
	default:
		// receiver is not keeping up. drop the stream rather than block
		// the transport reader.
		glog.Infof("[ws]stream %d backpressure, dropping\n", self.requestId)
		self.fail(ErrTransportClosed)
	}
}

func (self *wsStream) fail(err error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.err == nil {
		self.err = err
		close(self.done)
	}
}

func (self *wsStream) endError() error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.err
}

func (self *wsStream) Receive() (*protocol.Frame, error) {
	// explicit cancel is honored immediately, dropping buffered messages
	if err := self.endError(); err == ErrStreamCanceled {
		return nil, err
	}
	// otherwise drain buffered messages before reporting the end
	select {
	case envelope := <-self.receive:
		return envelope.Frame, nil
	default:
	}
	select {
	case envelope := <-self.receive:
		return envelope.Frame, nil
	case <-self.done:
		return nil, self.endError()
	}
}

func (self *wsStream) Cancel() {
	self.cancelOnce.Do(func() {
		self.fail(ErrStreamCanceled)

		self.transport.mutex.Lock()
		delete(self.transport.streams, self.requestId)
		self.transport.mutex.Unlock()

		cancelCtx, cancel := context.WithTimeout(context.Background(), self.transport.settings.WriteTimeout)
		defer cancel()
		self.transport.writeEnvelope(cancelCtx, &protocol.Envelope{
			Kind:      protocol.EnvelopeKindStreamCancel,
			RequestId: self.requestId,
		})
	})
}
