// Websocket endpoint.
//
//	GET /ws?token=<jwt>
//
// The connection is upgraded first and authenticated second, so that a bad
// token is reported the websocket way: a close frame with status 1008
// (policy violation). Browsers cannot attach headers to the handshake, hence
// the query parameter; non-browser clients may send the usual
// Authorization: Bearer header instead.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/go-chat-realtime/internal/auth"
	"github.com/tbourn/go-chat-realtime/internal/hub"
	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
)

// Registry is the part of hub.Registry the websocket endpoint needs.
type Registry interface {
	Connect(c hub.Conn) error
	Disconnect(c hub.Conn)
}

// FrameHandler processes one inbound frame of a connection.
type FrameHandler interface {
	Handle(ctx context.Context, c hub.Conn, raw []byte)
}

// WSHandler upgrades, authenticates and serves websocket connections.
type WSHandler struct {
	registry Registry
	frames   FrameHandler
	tokens   middleware.TokenParser
	opts     hub.ClientOptions
	upgrader websocket.Upgrader
}

// NewWSHandler builds the websocket endpoint. allowedOrigins restricts the
// Origin header of browser handshakes; empty allows any origin.
func NewWSHandler(registry Registry, frames FrameHandler, tokens middleware.TokenParser, allowedOrigins []string, opts hub.ClientOptions) *WSHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = hub.DefaultClientOptions().WriteWait
	}
	return &WSHandler{
		registry: registry,
		frames:   frames,
		tokens:   tokens,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowed) == 0 || origin == "" {
					return true
				}
				_, found := allowed[origin]
				return found
			},
		},
	}
}

// Serve godoc
// @ID          websocket
// @Summary     Open the real-time connection
// @Description Upgrades to a websocket. Frames are JSON envelopes {"type", "payload"}.
// @Description Inbound: message.new {conversation_id, content}. Outbound: message.new,
// @Description conversation.read and error {code, message}. A missing or invalid token
// @Description closes the connection with status 1008.
// @Tags        Realtime
//
// @Param       token  query  string  false  "Bearer token (required unless sent in Authorization)"
//
// @Success     101  {string} string "Switching Protocols"
// @Failure     403  {string} string "Origin not allowed"
// @Router      /ws [get]
func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already answered with an HTTP error.
		lg := middleware.LoggerFrom(c)
		lg.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	token := c.Query("token")
	if token == "" {
		token = auth.BearerToken(c.GetHeader("Authorization"))
	}
	uid, err := h.tokens.Parse(token)
	if err != nil {
		hub.Reject(conn, websocket.ClosePolicyViolation, "invalid or missing token", h.opts.WriteWait)
		return
	}
	middleware.SetUserID(c, uid)

	client := hub.NewClient(conn, uid, h.opts, *middleware.LoggerFrom(c))
	if err := h.registry.Connect(client); err != nil {
		_ = client.CloseWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.registry.Disconnect(client)

	go client.WritePump()

	ctx := c.Request.Context()
	client.ReadPump(func(frame []byte) {
		h.frames.Handle(ctx, client, frame)
	})
}
