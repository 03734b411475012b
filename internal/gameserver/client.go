package gameserver

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/leozinhoszg/zerion/internal/protocol"
	"github.com/leozinhoszg/zerion/internal/sim"
)

const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
	defaultReadTimeout   = 120 * time.Second
)

// Client is one websocket session.
type Client struct {
	conn   *websocket.Conn
	id     string
	remote string

	userID   int64
	playerID string // userID as string, used as entity id and chat sender
	charID   int64

	state atomic.Int32

	// view and lastSeq are touched only by the session's reader goroutine.
	view    *sim.View
	lastSeq uint64

	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	// done is closed once the disconnection path has finished.
	done chan struct{}

	writeTimeout time.Duration
}

// NewClient wraps an upgraded connection for userID.
func NewClient(conn *websocket.Conn, userID int64, sendQueueSize int, writeTimeout time.Duration) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	playerID := strconv.FormatInt(userID, 10)
	c := &Client{
		conn:         conn,
		id:           uuid.NewString(),
		remote:       conn.RemoteAddr().String(),
		userID:       userID,
		playerID:     playerID,
		view:         sim.NewView(playerID, playerID),
		sendCh:       make(chan []byte, sendQueueSize),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	c.state.Store(int32(ClientStateConnected))
	return c
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the authenticated user.
func (c *Client) UserID() int64 {
	return c.userID
}

// PlayerID returns the user id as used in the world and in chat.
func (c *Client) PlayerID() string {
	return c.playerID
}

// CharacterID returns the character controlled by this session.
func (c *Client) CharacterID() int64 {
	return c.charID
}

// View returns the per-connection view state.
func (c *Client) View() *sim.View {
	return c.view
}

func (c *Client) State() ClientConnectionState {
	return ClientConnectionState(c.state.Load())
}

func (c *Client) SetState(s ClientConnectionState) {
	c.state.Store(int32(s))
}

// Done is closed when the session has been fully torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// writePump drains sendCh to the socket. One goroutine per client.
func (c *Client) writePump() {
	for {
		select {
		case frame, ok := <-c.sendCh:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				slog.Warn("set write deadline failed", "client", c.remote, "error", err)
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				slog.Debug("write failed", "client", c.remote, "error", err)
				c.Close()
				return
			}

		case <-c.closeCh:
			return
		}
	}
}

// Send queues a binary frame. A full queue disconnects the client.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.closeCh:
		return fmt.Errorf("client closed")
	default:
	}

	select {
	case c.sendCh <- frame:
		return nil
	default:
		slog.Warn("send queue full, disconnecting slow client", "client", c.remote, "user", c.userID)
		c.Close()
		return fmt.Errorf("send queue full")
	}
}

// SendEnvelope marshals env and queues it.
func (c *Client) SendEnvelope(env protocol.Envelope) error {
	frame, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// SendFrame builds and queues a frame for op.
func (c *Client) SendFrame(op protocol.Op, payload protocol.Payload) error {
	frame, err := protocol.Frame(op, payload, nil, nil)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// CloseAsync stops the write pump without touching the socket.
func (c *Client) CloseAsync() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(ClientStateDisconnected))
		close(c.closeCh)
	})
}

// Close stops the write pump and closes the socket, unblocking the reader.
func (c *Client) Close() error {
	c.CloseAsync()
	return c.conn.Close()
}
