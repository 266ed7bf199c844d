package gateway

import (
	"fmt"
	"sync"

	"github.com/Intelligent-Internet/ii-agent/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const outboundQueueSize = 64

// wsTransport adapts one websocket connection to the session.Transport
// contract. A single write pump drains the outbound queue so envelopes hit
// the wire in the order they were sent, regardless of which goroutine
// produced them.
type wsTransport struct {
	conn      *websocket.Conn
	outbound  chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

func newWSTransport(conn *websocket.Conn, logger zerolog.Logger) *wsTransport {
	t := &wsTransport{
		conn:     conn,
		outbound: make(chan protocol.Envelope, outboundQueueSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go t.writePump()
	return t
}

// Send enqueues an envelope for delivery. It blocks when the client is slow
// enough to fill the queue and fails once the transport is closed.
func (t *wsTransport) Send(env protocol.Envelope) error {
	select {
	case <-t.done:
		return fmt.Errorf("transport closed")
	default:
	}

	select {
	case t.outbound <- env:
		return nil
	case <-t.done:
		return fmt.Errorf("transport closed")
	}
}

// Close shuts down the transport. Envelopes already queued are flushed by
// the write pump before the connection closes. Safe to call more than once.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *wsTransport) writePump() {
	defer t.conn.Close()

	for {
		select {
		case env := <-t.outbound:
			if !t.write(env) {
				return
			}
		case <-t.done:
			// Flush whatever was queued before the close.
			for {
				select {
				case env := <-t.outbound:
					if !t.write(env) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (t *wsTransport) write(env protocol.Envelope) bool {
	data, err := protocol.Encode(env)
	if err != nil {
		t.logger.Error().Err(err).Str("type", string(env.Type)).Msg("Failed to encode envelope")
		return true
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logger.Debug().Err(err).Msg("Write failed, closing transport")
		_ = t.Close()
		return false
	}
	return true
}
