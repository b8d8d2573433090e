// This file contains the Conn struct which represents one websocket session.
// It handles the low-level communication: read and write pumps, ping/pong
// keepalive, write deadlines, and close-once lifecycle. Inbound envelopes are
// dispatched synchronously from the read loop so events from one connection
// reach the coordinator in receipt order.
package chatwire

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type envelopeHandler func(env Envelope, conn *Conn)

type Conn struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	closeChan chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
	mutex     sync.RWMutex
	isClosing bool
	started   bool
	openedAt  time.Time
	handler   envelopeHandler
	onClose   func(*Conn)
	options   *Options
	ctx       context.Context
	cancel    context.CancelFunc
}

func newConn(parentCtx context.Context, wsConn *websocket.Conn, id string, options *Options) (*Conn, error) {
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Conn{
		ID:        id,
		conn:      wsConn,
		ctx:       ctx,
		cancel:    cancel,
		closeChan: make(chan struct{}),
		readDone:  make(chan struct{}),
		send:      make(chan []byte, options.SendChannelBuffer),
		openedAt:  time.Now(),
		options:   options,
	}

	wsConn.SetReadLimit(options.MaxMessageSize)
	if err := wsConn.SetReadDeadline(time.Now().Add(options.PongWait)); err != nil {
		cancel()

		return nil, wrapF(err, "failed to set initial read deadline for connection %s", id)
	}

	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(options.PongWait))
	})

	c.conn.SetCloseHandler(func(code int, text string) error {
		c.Close()

		return nil
	})

	return c, nil
}

func (c *Conn) start() {
	c.mutex.Lock()

	c.started = true

	c.mutex.Unlock()

	go c.readPump()

	go c.writePump()
}

func (c *Conn) readPump() {
	defer func() {
		close(c.readDone)

		c.close(true)
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			if err := c.conn.SetReadDeadline(time.Now().Add(c.options.PongWait)); err != nil {
				c.reportError("read_deadline", err)

				return
			}
			messageType, message, err := c.conn.ReadMessage()

			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					return
				}

				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					c.reportError("read_pump", err)
				} else if !errors.Is(err, context.Canceled) {
					c.reportError("read_pump", err)
				}

				return
			}

			if messageType != websocket.TextMessage {
				continue
			}

			var env Envelope
			if err := json.Unmarshal(message, &env); err != nil {
				c.reportError("decode", wrapF(err, "failed to decode envelope from connection %s", c.ID))

				continue
			}
			if !env.Validate() {
				continue
			}

			c.mutex.RLock()
			handler := c.handler
			c.mutex.RUnlock()

			if handler == nil {
				continue
			}

			// Dispatch inline: per-connection event ordering depends on it.
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.reportError("handler_panic", internal(string(gatewayEntity), "handler panic recovered"))
					}
				}()

				handler(env, c)
			}()
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.options.PingInterval)

	defer func() {
		ticker.Stop()

		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if !c.IsActive() {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		case <-c.closeChan:
			return
		}
	}
}

// SendEvent marshals an envelope and queues it for the write pump. A send
// that cannot be queued within the write wait closes the connection; a slow
// consumer must not be able to stall the coordinator indefinitely.
func (c *Conn) SendEvent(event string, payload interface{}) (err error) {
	if !c.IsActive() {
		return internal(string(gatewayEntity), "Connection with id "+c.ID+" is closing")
	}
	body, err := json.Marshal(payload)

	if err != nil {
		return wrapF(err, "failed to marshal payload for connection %s", c.ID)
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: body})

	if err != nil {
		return wrapF(err, "failed to marshal envelope for connection %s", c.ID)
	}

	defer func() {
		if r := recover(); r != nil {
			err = internal(string(gatewayEntity), "Connection with id "+c.ID+" is closing")
		}
	}()

	select {
	case <-c.closeChan:
		return internal(string(gatewayEntity), "Connection with id "+c.ID+" is closing")

	case <-c.ctx.Done():
		return internal(string(gatewayEntity), "Connection with id "+c.ID+" is closing due to context cancellation")

	case c.send <- data:
		return nil
	case <-time.After(c.options.WriteWait):
		go c.Close()

		return timeout(string(gatewayEntity), "send timeout, connection with id "+c.ID+" is closing")
	}
}

func (c *Conn) onEnvelope(handler envelopeHandler) {
	c.mutex.Lock()

	defer c.mutex.Unlock()

	c.handler = handler
}

// OnClose registers the single close callback. It runs exactly once, during
// connection cleanup, and is the disconnect signal that triggers the
// coordinator cascade.
func (c *Conn) OnClose(callback func(*Conn)) {
	c.mutex.Lock()

	defer c.mutex.Unlock()

	c.onClose = callback
}

// IsActive returns true while the connection can still send and receive.
func (c *Conn) IsActive() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	c.mutex.RLock()

	defer c.mutex.RUnlock()

	return !c.isClosing
}

// Age returns how long the connection has been open.
func (c *Conn) Age() time.Duration {
	return time.Since(c.openedAt)
}

// Close gracefully shuts down the connection. Idempotent.
func (c *Conn) Close() {
	c.close(false)
}

func (c *Conn) close(fromReader bool) {
	c.closeOnce.Do(func() {
		c.mutex.Lock()

		c.isClosing = true
		callback := c.onClose
		started := c.started

		c.mutex.Unlock()

		if c.cancel != nil {
			c.cancel()
		}
		close(c.closeChan)

		conn := c.conn

		if !fromReader && conn != nil {
			_ = conn.Close()
		}

		// The read pump closes readDone on exit; waiting for a pump that
		// never started would block forever.
		if !fromReader && started {
			<-c.readDone
		}

		if callback != nil {
			callback(c)
		}

		if fromReader && conn != nil {
			_ = conn.Close()
		}
	})
}

func (c *Conn) reportError(component string, err error) {
	if err == nil || c == nil || c.options == nil || c.options.Hooks == nil || c.options.Hooks.Metrics == nil {
		return
	}
	c.options.Hooks.Metrics.Error(component, err)
}
