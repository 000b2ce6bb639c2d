package hub

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrConnClosed is returned by Send after the connection was closed.
	ErrConnClosed = errors.New("hub: connection closed")
	// ErrSendBufferFull is returned by Send when the client cannot keep up.
	ErrSendBufferFull = errors.New("hub: send buffer full")
)

// ClientOptions tunes a websocket client.
type ClientOptions struct {
	SendBuffer     int           // queued outbound frames before the client is dropped
	MaxMessageSize int64         // inbound frame limit in bytes
	WriteWait      time.Duration // deadline for a single write
	PongWait       time.Duration // read deadline, extended by every pong
	PingPeriod     time.Duration // must be shorter than PongWait
	FrameRPS       float64       // inbound frames per second; 0 disables limiting
	FrameBurst     int
}

// DefaultClientOptions returns the options used when a field is left zero.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		SendBuffer:     256,
		MaxMessageSize: 64 << 10,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		FrameRPS:       10,
		FrameBurst:     20,
	}
}

func (o ClientOptions) withDefaults() ClientOptions {
	def := DefaultClientOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = def.SendBuffer
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = def.MaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = def.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = def.PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.FrameBurst <= 0 {
		o.FrameBurst = def.FrameBurst
	}
	return o
}

// Client is one websocket connection of an authenticated user. Outbound
// frames go through a buffered queue drained by a single writer goroutine
// (WritePump), which keeps per-connection order.
type Client struct {
	id      string
	userID  int64
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	opts    ClientOptions
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient wraps an upgraded websocket connection for userID.
func NewClient(conn *websocket.Conn, userID int64, opts ClientOptions, logger zerolog.Logger) *Client {
	opts = opts.withDefaults()
	id := uuid.NewString()
	c := &Client{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		opts:   opts,
		log: logger.With().
			Str("conn_id", id).
			Int64("user_id", userID).
			Logger(),
	}
	if opts.FrameRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.FrameRPS), opts.FrameBurst)
	}
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	return c
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user of this connection.
func (c *Client) UserID() int64 { return c.userID }

// Logger returns the connection-scoped logger.
func (c *Client) Logger() zerolog.Logger { return c.log }

// Send queues frame for the writer without blocking.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// SendEvent encodes ev and queues it. It is used for replies to this
// connection only.
func (c *Client) SendEvent(ev Event) error {
	frame, err := ev.Encode()
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// Close closes the connection with a normal closure status.
func (c *Client) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith sends a close frame with code and reason and closes the
// underlying connection. Only the first call has an effect.
func (c *Client) CloseWith(code int, reason string) error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
		if cerr := c.conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			err = cerr
		}
	})
	return err
}

// Done is closed once the connection is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// ReadPump reads frames until the connection fails or is closed and passes
// each to handle, one at a time. Frames over the rate limit are answered
// with a rate_limited error and dropped. It must be called from a single
// goroutine.
func (c *Client) ReadPump(handle func(frame []byte)) {
	c.setupReadConnection()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.log.Warn().Msg("frame rate limit exceeded; dropping frame")
			_ = c.SendEvent(NewErrorEvent(CodeRateLimited, "too many messages"))
			continue
		}
		handle(frame)
	}
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		c.log.Debug().Err(err).Msg("set initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.opts.MaxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	default:
		c.log.Info().Err(err).Msg("websocket read error")
	}
}

// WritePump drains the send queue and keeps the connection alive with pings
// until the connection is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.logWriteError(err, "write frame")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logWriteError(err, "write ping")
				return
			}
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

func (c *Client) logWriteError(err error, what string) {
	if isExpectedCloseError(err) {
		return
	}
	c.log.Debug().Err(err).Msg(what)
}

// Reject closes a freshly upgraded connection with code before it is ever
// registered, e.g. 1008 for a missing or invalid token.
func Reject(conn *websocket.Conn, code int, reason string, writeWait time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "use of closed network connection") ||
		strings.Contains(s, "broken pipe")
}
