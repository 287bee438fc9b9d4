package spacesync

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/facetspace/spacesync/protocol"
)

// Websocket server side of the transport boundary: upgrades inbound
// connections, demultiplexes request envelopes to the server session, and
// serializes outbound envelopes through a single writer.

const ClientIdHeader = "X-Spacesync-Client-Id"

type WsHandler struct {
	ctx context.Context

	server   *Server
	settings *WsTransportSettings

	upgrader websocket.Upgrader
}

func NewWsHandlerWithDefaults(ctx context.Context, server *Server) *WsHandler {
	return NewWsHandler(ctx, server, DefaultWsTransportSettings())
}

func NewWsHandler(ctx context.Context, server *Server, settings *WsTransportSettings) *WsHandler {
	return &WsHandler{
		ctx:      ctx,
		server:   server,
		settings: settings,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: settings.WsHandshakeTimeout,
		},
	}
}

func (self *WsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[wss]upgrade error = %s\n", err)
		return
	}

	clientId := r.Header.Get(ClientIdHeader)
	if clientId == "" {
		clientId = NewId().String()
	}

	conn := &wsServerConn{
		handler:  self,
		ws:       ws,
		clientId: clientId,
		send:     make(chan []byte, TransportBufferSize),
		cancels:  map[uint64]context.CancelFunc{},
	}
	conn.run()
}

type wsServerConn struct {
	handler  *WsHandler
	ws       *websocket.Conn
	clientId string

	// set once at the top of run
	connCtx context.Context

	send chan []byte

	mutex sync.Mutex
	// stream request id -> cancel
	cancels map[uint64]context.CancelFunc
}

func (self *wsServerConn) run() {
	defer self.ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.handler.ctx)
	defer handleCancel()
	self.connCtx = handleCtx

	glog.V(1).Infof("[wss]connect %s\n", self.clientId)

	go func() {
		defer handleCancel()

		settings := self.handler.settings
		for {
			select {
			case <-handleCtx.Done():
				return
			case message, ok := <-self.send:
				if !ok {
					return
				}
				self.ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
				if err := self.ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
					glog.Infof("[wss]%s-> error = %s\n", self.clientId, err)
					return
				}
			case <-time.After(settings.PingTimeout):
				self.ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
				if err := self.ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	func() {
		defer handleCancel()

		settings := self.handler.settings
		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			self.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
			messageType, message, err := self.ws.ReadMessage()
			if err != nil {
				glog.V(1).Infof("[wss]%s<- error = %s\n", self.clientId, err)
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
					glog.Infof("[wss]%s<- bad envelope = %s\n", self.clientId, err)
					continue
				}
				self.route(handleCtx, envelope)
			}
		}
	}()

	glog.V(1).Infof("[wss]disconnect %s\n", self.clientId)
}

func (self *wsServerConn) route(ctx context.Context, envelope *protocol.Envelope) {
	switch envelope.Kind {
	case protocol.EnvelopeKindRequest:
		go HandleError(func() {
			self.handleRequest(ctx, envelope)
		})
	case protocol.EnvelopeKindStreamOpen:
		streamCtx, streamCancel := context.WithCancel(ctx)
		self.mutex.Lock()
		self.cancels[envelope.RequestId] = streamCancel
		self.mutex.Unlock()
		go HandleError(func() {
			defer func() {
				streamCancel()
				self.mutex.Lock()
				delete(self.cancels, envelope.RequestId)
				self.mutex.Unlock()
			}()
			self.handleStream(streamCtx, envelope)
		})
	case protocol.EnvelopeKindStreamCancel:
		self.mutex.Lock()
		cancel, ok := self.cancels[envelope.RequestId]
		delete(self.cancels, envelope.RequestId)
		self.mutex.Unlock()
		if ok {
			cancel()
		}
	default:
		glog.V(2).Infof("[wss]%s<- unexpected envelope kind=%d\n", self.clientId, envelope.Kind)
	}
}

func (self *wsServerConn) handleRequest(ctx context.Context, envelope *protocol.Envelope) {
	response, err := self.handler.server.HandleCall(ctx, self.clientId, envelope.Frame)
	out := &protocol.Envelope{
		Kind:      protocol.EnvelopeKindResponse,
		RequestId: envelope.RequestId,
	}
	if err != nil {
		out.Error = err.Error()
	} else {
		out.Frame = response
	}
	self.writeEnvelope(ctx, out)
}

func (self *wsServerConn) handleStream(ctx context.Context, envelope *protocol.Envelope) {
	// acknowledge before the first stream message
	ack := func(ackErr error) {
		out := &protocol.Envelope{
			Kind:      protocol.EnvelopeKindResponse,
			RequestId: envelope.RequestId,
		}
		if ackErr != nil {
			out.Error = ackErr.Error()
		}
		self.writeEnvelope(ctx, out)
	}

	acked := false
	err := self.handler.server.HandleSubscribe(
		ctx,
		self.clientId,
		envelope.Frame,
		func() {
			acked = true
			ack(nil)
		},
		func(frame *protocol.Frame) error {
			return self.writeEnvelope(ctx, &protocol.Envelope{
				Kind:      protocol.EnvelopeKindStreamMessage,
				RequestId: envelope.RequestId,
				Frame:     frame,
			})
		},
	)
	if !acked {
		ack(err)
		return
	}
	end := &protocol.Envelope{
		Kind:      protocol.EnvelopeKindStreamEnd,
		RequestId: envelope.RequestId,
	}
	if err != nil {
		end.Error = err.Error()
	}
	// best effort on the connection context. the per-stream context is
	// already canceled on the normal unsubscribe path.
	self.writeEnvelope(self.connCtx, end)
}

func (self *wsServerConn) writeEnvelope(ctx context.Context, envelope *protocol.Envelope) error {
	message, err := protocol.EncodeEnvelope(envelope)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case self.send <- message:
		return nil
	}
}
