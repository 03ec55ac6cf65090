package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"levelverse.io/internal/accounts"
	"levelverse.io/internal/levels"
	"levelverse.io/internal/presence"
	"levelverse.io/internal/protocol"
	"levelverse.io/internal/store"
)

const (
	loginTypeToken = "token"

	defaultPingInterval = 25 * time.Second
	defaultReadTimeout  = 60 * time.Second
	writeTimeout        = 5 * time.Second
)

// Levels is the level API reachable from a connection. *levels.Service
// implements it.
type Levels interface {
	ListLevels(ctx context.Context, callerID string) ([]store.Doc, error)
	ListTemplates(ctx context.Context, callerID string) ([]store.Doc, error)
	CreateLevel(ctx context.Context, actorID string, opts levels.CreateOptions) (string, error)
	UpdateLevel(ctx context.Context, callerID, name string, position levels.Position, hide bool) error
	ToggleLevelEditionPermission(ctx context.Context, callerID, targetUserID string) error
	IncreaseLevelVisits(ctx context.Context, callerID, levelID string) error
}

// Logins screens and records sign-ins. *accounts.Service implements it.
type Logins interface {
	ValidateLoginAttempt(ip string) bool
	OnLogin(ctx context.Context, attempt accounts.LoginAttempt) error
}

type Config struct {
	Levels    Levels
	Presence  *presence.Manager
	Logins    Logins
	Auth      accounts.Authenticator
	Validator *protocol.Validator
	Logger    zerolog.Logger
	// TrustForwardedFor takes the client IP from X-Forwarded-For.
	TrustForwardedFor bool
	// QueueSize bounds the per-connection outbound queue. A connection whose
	// queue overflows on a live update is dropped.
	QueueSize int
	// PingInterval must stay below ReadTimeout; pongs extend the read
	// deadline so quiet subscribers stay connected.
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

type Server struct {
	cfg Config
	log zerolog.Logger

	upgrader websocket.Upgrader
	conns    atomic.Int64
}

func NewServer(cfg Config) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
		cfg.PingInterval = cfg.ReadTimeout * 5 / 12
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Connections returns the number of open connections.
func (s *Server) Connections() int64 { return s.conns.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ip := s.clientIP(r)
		if !s.cfg.Logins.ValidateLoginAttempt(ip) {
			closeWith(conn, websocket.ClosePolicyViolation, "forbidden")
			return
		}

		s.conns.Add(1)
		defer s.conns.Add(-1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := &client{
			srv:    s,
			ctx:    ctx,
			cancel: cancel,
			conn:   conn,
			out:    make(chan []byte, s.cfg.QueueSize),
			subs:   map[string]*subscription{},
		}
		if !c.handshake(conn, ip, r.UserAgent()) {
			return
		}
		c.log = s.log.With().Str("session_id", c.sessionID).Str("user_id", c.userID).Logger()

		readTimeout := s.cfg.ReadTimeout
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			ping := time.NewTicker(s.cfg.PingInterval)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
						c.drop()
						return
					}
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						c.drop()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			c.handle(msg)
		}

		// Cleanup.
		c.stopAll()
		cancel()
		<-done
		c.log.Debug().Msg("ws: disconnected")
	}
}

func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type subscription struct {
	name    string
	session *presence.Session

	// Live updates are held back until the snapshot and READY are queued.
	mu      sync.Mutex
	ready   bool
	pending *presence.Update
}

// client is the state of one connection. subs is owned by the reader loop.
type client struct {
	srv       *Server
	ctx       context.Context
	cancel    context.CancelFunc
	conn      *websocket.Conn
	log       zerolog.Logger
	out       chan []byte
	userID    string
	sessionID string
	subs      map[string]*subscription

	dropOnce sync.Once
}

func (c *client) handshake(conn *websocket.Conn, ip, userAgent string) bool {
	s := c.srv
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return false
	}
	if err := s.cfg.Validator.ValidateMessage(protocol.TypeHello, msg); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return false
	}

	// A missing or unknown token leaves the connection unauthenticated.
	if token := strings.TrimSpace(hello.Token); token != "" {
		userID, err := s.cfg.Auth.Authenticate(c.ctx, token)
		switch {
		case err == nil:
			c.userID = userID
		case !errors.Is(err, levels.ErrMissingUser):
			s.log.Error().Err(err).Msg("ws: authenticate failed")
		}
	}
	if c.userID != "" {
		loginType := loginTypeToken
		if hello.Resume {
			loginType = accounts.LoginTypeResume
		}
		err := s.cfg.Logins.OnLogin(c.ctx, accounts.LoginAttempt{UserID: c.userID, Type: loginType, IP: ip, UserAgent: userAgent})
		if errors.Is(err, levels.ErrMissingUser) {
			c.userID = ""
		} else if err != nil {
			s.log.Error().Err(err).Str("user_id", c.userID).Msg("ws: onLogin failed")
		}
	}

	c.sessionID = uuid.NewString()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       c.sessionID,
		UserID:          c.userID,
	}
	return writeJSON(conn, welcome) == nil
}

func (c *client) handle(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeSub:
		var m protocol.SubMsg
		if err := c.decode(base.Type, msg, &m); err != nil {
			c.send(protocol.NoSubMsg{Type: protocol.TypeNoSub, ID: m.ID, Error: protocol.ErrorFor(err)})
			return
		}
		c.subscribe(m)
	case protocol.TypeUnsub:
		var m protocol.UnsubMsg
		if err := c.decode(base.Type, msg, &m); err != nil {
			return
		}
		c.unsubscribe(m.ID)
	case protocol.TypeMethod:
		var m protocol.MethodMsg
		if err := c.decode(base.Type, msg, &m); err != nil {
			c.send(protocol.ResultMsg{Type: protocol.TypeResult, ID: m.ID, Error: protocol.ErrorFor(err)})
			return
		}
		result, err := c.call(m)
		c.send(protocol.ResultMsg{Type: protocol.TypeResult, ID: m.ID, Result: result, Error: protocol.ErrorFor(err)})
	default:
		c.log.Debug().Str("type", base.Type).Msg("ws: ignored message")
	}
}

// decode validates msg against its schema, then unmarshals it. v is filled
// on a best-effort basis even when validation fails so replies can carry
// the request id.
func (c *client) decode(typ string, msg []byte, v any) error {
	_ = json.Unmarshal(msg, v)
	return c.srv.cfg.Validator.ValidateMessage(typ, msg)
}

func (c *client) subscribe(m protocol.SubMsg) {
	if _, dup := c.subs[m.ID]; dup {
		c.send(protocol.NoSubMsg{Type: protocol.TypeNoSub, ID: m.ID, Error: &protocol.ErrorBody{Code: protocol.ErrProtoBadRequest, Message: "duplicate subscription id"}})
		return
	}

	levelsAPI := c.srv.cfg.Levels
	var (
		docs []store.Doc
		sub  = &subscription{name: m.Name}
		err  error
	)
	switch m.Name {
	case protocol.SubLevels:
		docs, err = levelsAPI.ListLevels(c.ctx, c.userID)
	case protocol.SubLevelTemplates:
		docs, err = levelsAPI.ListTemplates(c.ctx, c.userID)
	case protocol.SubCurrentLevel:
		var level store.Doc
		sub.session, level, err = c.srv.cfg.Presence.Subscribe(c.ctx, c.userID, c.sink(m.ID, sub))
		if level != nil {
			docs = []store.Doc{level}
		}
	default:
		err = &protocol.ProtoError{Code: protocol.ErrUnknownSub, Message: "subscription " + m.Name + " not found"}
	}
	if err != nil {
		c.log.Warn().Err(err).Str("sub", m.Name).Msg("ws: subscription failed")
		c.send(protocol.NoSubMsg{Type: protocol.TypeNoSub, ID: m.ID, Error: protocol.ErrorFor(err)})
		return
	}

	c.subs[m.ID] = sub
	for _, d := range docs {
		c.send(docMsg(protocol.TypeAdded, m.ID, d.ID(), d))
	}
	c.send(protocol.ReadyMsg{Type: protocol.TypeReady, Subs: []string{m.ID}})
	c.markReady(m.ID, sub)
}

// sink runs on whichever goroutine changed the level, so it never blocks:
// a connection too slow to take the update is dropped.
func (c *client) sink(subID string, sub *subscription) presence.Sink {
	return func(u presence.Update) {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if !sub.ready {
			sub.pending = &u
			return
		}
		c.push(subID, u)
	}
}

// markReady releases the latest update held back while the snapshot was
// being queued.
func (c *client) markReady(subID string, sub *subscription) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.ready = true
	if sub.pending != nil {
		c.push(subID, *sub.pending)
		sub.pending = nil
	}
}

func (c *client) push(subID string, u presence.Update) {
	if u.Removed {
		c.trySend(protocol.DocMsg{Type: protocol.TypeRemoved, Sub: subID, Collection: store.Levels, ID: u.LevelID})
		return
	}
	c.trySend(docMsg(protocol.TypeChanged, subID, u.LevelID, u.Fields))
}

func (c *client) unsubscribe(id string) {
	sub, ok := c.subs[id]
	if !ok {
		return
	}
	delete(c.subs, id)
	if sub.session != nil {
		sub.session.Stop()
	}
	c.send(protocol.NoSubMsg{Type: protocol.TypeNoSub, ID: id})
}

func (c *client) stopAll() {
	for id, sub := range c.subs {
		if sub.session != nil {
			sub.session.Stop()
		}
		delete(c.subs, id)
	}
}

func (c *client) call(m protocol.MethodMsg) (any, error) {
	if err := c.srv.cfg.Validator.ValidateParams(m.Method, m.Params); err != nil {
		return nil, err
	}
	var params []json.RawMessage
	if len(m.Params) > 0 {
		if err := json.Unmarshal(m.Params, &params); err != nil {
			return nil, &protocol.ProtoError{Code: protocol.ErrProtoBadRequest, Message: "params must be an array"}
		}
	}
	arg := func(i int, v any) {
		if i < len(params) {
			_ = json.Unmarshal(params[i], v)
		}
	}

	c.log.Debug().Str("method", m.Method).Str("call_id", m.ID).Msg("ws: method")
	api := c.srv.cfg.Levels
	switch m.Method {
	case protocol.MethodCreateLevel:
		var templateID string
		arg(0, &templateID)
		return api.CreateLevel(c.ctx, c.userID, levels.CreateOptions{TemplateID: templateID})
	case protocol.MethodUpdateLevel:
		var (
			name string
			pos  protocol.Point
			hide bool
		)
		arg(0, &name)
		arg(1, &pos)
		arg(2, &hide)
		return nil, api.UpdateLevel(c.ctx, c.userID, name, levels.Position{X: pos.X, Y: pos.Y}, hide)
	case protocol.MethodToggleLevelEditionPermission:
		var target string
		arg(0, &target)
		return nil, api.ToggleLevelEditionPermission(c.ctx, c.userID, target)
	case protocol.MethodIncreaseLevelVisits:
		var levelID string
		arg(0, &levelID)
		return nil, api.IncreaseLevelVisits(c.ctx, c.userID, levelID)
	}
	return nil, &protocol.ProtoError{Code: protocol.ErrUnknownMethod, Message: "method " + m.Method + " not found"}
}

func (c *client) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Msg("ws: encode message")
		return
	}
	select {
	case c.out <- b:
	case <-c.ctx.Done():
	}
}

func (c *client) trySend(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Msg("ws: encode message")
		return
	}
	select {
	case c.out <- b:
	case <-c.ctx.Done():
	default:
		c.log.Warn().Int("queue", cap(c.out)).Msg("ws: outbound queue full, dropping connection")
		c.drop()
	}
}

// drop ends the connection; the reader loop then stops every subscription.
func (c *client) drop() {
	c.dropOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func docMsg(typ, sub, id string, d store.Doc) protocol.DocMsg {
	fields := make(map[string]any, len(d))
	for k, v := range d {
		if k == store.IDField {
			continue
		}
		fields[k] = v
	}
	return protocol.DocMsg{Type: typ, Sub: sub, Collection: store.Levels, ID: id, Fields: fields}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
