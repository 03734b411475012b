package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leozinhoszg/zerion/internal/auth"
	"github.com/leozinhoszg/zerion/internal/chat"
	"github.com/leozinhoszg/zerion/internal/config"
	"github.com/leozinhoszg/zerion/internal/protocol"
	"github.com/leozinhoszg/zerion/internal/sim"
	"github.com/leozinhoszg/zerion/internal/tilemap"
	"github.com/leozinhoszg/zerion/internal/world"
)

const (
	maxFrameSize    = 64 * 1024
	shutdownTimeout = 5 * time.Second
	closeTimeout    = time.Second
)

var (
	errOriginNotAllowed = errors.New("origin not allowed")
	errNoTicket         = errors.New("missing subprotocol or ticket")
	errTicketRejected   = errors.New("ticket invalid or already used")
)

// Deps are the collaborators of a Server.
type Deps struct {
	Config     config.GameServer
	Scheduler  *sim.Scheduler
	Maps       *tilemap.Registry
	Persister  Persister
	Tickets    auth.TicketStore
	Characters CharacterRepository
	Throttle   *auth.Throttle
	Broker     chat.Broker
}

// Server accepts websocket sessions on /ws.
type Server struct {
	cfg        config.GameServer
	scheduler  *sim.Scheduler
	maps       *tilemap.Registry
	persister  Persister
	tickets    auth.TicketStore
	characters CharacterRepository
	throttle   *auth.Throttle
	broker     chat.Broker
	origins    *auth.OriginChecker

	upgrader      websocket.Upgrader
	handler       *Handler
	clientManager *ClientManager

	sessions sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a server. Maps and Throttle default to an empty
// registry and the configured rates when nil.
func NewServer(deps Deps) (*Server, error) {
	if deps.Scheduler == nil || deps.Persister == nil || deps.Tickets == nil ||
		deps.Characters == nil || deps.Broker == nil {
		return nil, fmt.Errorf("creating game server: missing dependency")
	}
	if deps.Maps == nil {
		deps.Maps = tilemap.NewRegistry()
	}
	if deps.Throttle == nil {
		deps.Throttle = auth.NewThrottle(deps.Config.RateMovePerSecond, deps.Config.RateChatPerMinute)
	}

	clientMgr := NewClientManager()
	s := &Server{
		cfg:        deps.Config,
		scheduler:  deps.Scheduler,
		maps:       deps.Maps,
		persister:  deps.Persister,
		tickets:    deps.Tickets,
		characters: deps.Characters,
		throttle:   deps.Throttle,
		broker:     deps.Broker,
		origins:    auth.NewOriginChecker(deps.Config.AllowedOrigins),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{protocol.Subprotocol},
			// Origin is checked against the allow-list before the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		handler:       NewHandler(deps.Scheduler, deps.Throttle, deps.Broker, deps.Persister, clientMgr),
		clientManager: clientMgr,
	}
	return s, nil
}

// ClientManager returns the client registry.
func (s *Server) ClientManager() *ClientManager {
	return s.clientManager
}

// Addr returns the address the server is listening on, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/health", s.serveHealth)
	return mux
}

// Run listens on the configured address and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully
// and closes every open session.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("game server started", "address", ln.Addr())
		errCh <- httpSrv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serving http: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	s.CloseAll()

	return serveErr
}

// CloseAll closes every session and waits for their teardown.
func (s *Server) CloseAll() {
	var clients []*Client
	s.clientManager.ForEachClient(func(c *Client) bool {
		clients = append(clients, c)
		return true
	})
	for _, c := range clients {
		closeWith(c.conn, websocket.CloseGoingAway, "server shutting down")
	}
	s.sessions.Wait()
}

type healthResponse struct {
	Status    string `json:"status"`
	Players   int    `json:"players"`
	Sessions  int    `json:"sessions"`
	MapLoaded bool   `json:"map_loaded"`
	TickHz    int    `json:"tick_hz"`
	Ticking   bool   `json:"ticking"`
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Players:   s.scheduler.Players(),
		Sessions:  s.clientManager.Count(),
		MapLoaded: s.maps.Loaded(),
		TickHz:    s.scheduler.TickHz(),
		Ticking:   s.scheduler.Running(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Debug("writing health response", "error", err)
	}
}

// ServeWS runs the handshake and, on success, the session.
// Rejected handshakes are upgraded and immediately closed with a policy
// violation so browsers see the close code.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, authErr := s.authorize(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	if authErr != nil {
		slog.Info("handshake rejected", "remote", r.RemoteAddr, "error", authErr)
		closeWith(conn, websocket.ClosePolicyViolation, authErr.Error())
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()
	s.serveSession(r.Context(), conn, userID)
}

func (s *Server) authorize(r *http.Request) (int64, error) {
	if !s.origins.Allowed(r.Header.Get("Origin")) {
		return 0, errOriginNotAllowed
	}

	ticket, ok := auth.ExtractTicket(auth.ParseSubprotocols(r.Header.Values("Sec-WebSocket-Protocol")))
	if !ok {
		return 0, errNoTicket
	}

	userID, ok, err := s.tickets.Redeem(r.Context(), ticket)
	if err != nil {
		return 0, fmt.Errorf("redeeming ticket: %w", err)
	}
	if !ok {
		return 0, errTicketRejected
	}
	return userID, nil
}

func (s *Server) serveSession(ctx context.Context, conn *websocket.Conn, userID int64) {
	client := NewClient(conn, userID, s.cfg.SendQueueSize, s.cfg.WriteTimeout)
	defer close(client.done)

	if prev := s.clientManager.Register(client); prev != nil {
		slog.Info("duplicate login, closing previous session", "user", userID)
		closeWith(prev.conn, websocket.ClosePolicyViolation, "session replaced")
		// The previous session owns the same entity id; wait until it left the world.
		select {
		case <-prev.Done():
		case <-ctx.Done():
			s.clientManager.Unregister(client)
			conn.Close()
			return
		}
	}

	sess, err := s.join(ctx, client)
	if err != nil {
		slog.Error("joining world", "user", userID, "error", err)
		s.clientManager.Unregister(client)
		closeWith(conn, websocket.CloseInternalServerErr, "character unavailable")
		return
	}
	defer s.onDisconnection(sess)

	hello := protocol.HelloPayload{
		TickHz:       s.scheduler.TickHz(),
		ServerTimeMs: protocol.NowMs(),
	}
	if m, ok := s.maps.Current(); ok {
		hello.Map = m.Info()
	}
	if err := client.SendFrame(protocol.OpHello, hello); err != nil {
		slog.Warn("sending hello", "user", userID, "error", err)
		return
	}

	go client.writePump()
	sess.startForwarder(ctx)

	slog.Info("player connected",
		"user", userID,
		"character", client.CharacterID(),
		"remote", client.remote,
		"online", s.clientManager.Count(),
	)

	s.readLoop(ctx, client)
}

// join loads the character and places its entity in the world.
func (s *Server) join(ctx context.Context, client *Client) (*session, error) {
	spawn := tilemap.Point{}
	if m, ok := s.maps.Current(); ok {
		spawn = m.Spawn
	}

	char, err := s.characters.LookupOrCreate(ctx, client.UserID(), spawn.X, spawn.Y)
	if err != nil {
		return nil, fmt.Errorf("loading character: %w", err)
	}
	client.charID = char.ID
	client.view.MP = char.MP

	e := world.NewEntity(client.PlayerID(), world.KindPlayer, char.X, char.Y)
	e.HP = char.HP
	e.Meta = map[string]any{"name": char.Name, "class": char.Class}
	s.scheduler.Join(client.view, e)
	client.SetState(ClientStateInGame)

	sess := &session{client: client}
	sub, err := s.broker.Subscribe(ctx, protocol.ChannelGlobal)
	if err != nil {
		// Chat is optional for a session; movement keeps working.
		slog.Warn("chat subscribe failed", "user", client.UserID(), "error", err)
	} else {
		sess.sub = sub
	}
	return sess, nil
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	conn := client.conn
	conn.SetReadLimit(maxFrameSize)

	for {
		if s.cfg.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
				return
			}
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.Debug("read failed", "user", client.UserID(), "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		if err := s.handler.HandleFrame(ctx, client, data); err != nil {
			slog.Debug("closing session", "user", client.UserID(), "error", err)
			return
		}
	}
}

// closeWith sends a close frame with code and reason, then closes conn.
func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	conn.Close()
}
