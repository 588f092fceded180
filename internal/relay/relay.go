// Package relay accepts WebSocket connections, runs a session for each and
// exposes the HTTP surface around them: health, membership and audit views.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatrelay/internal/audit"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/registry"
	"github.com/Tyrowin/chatrelay/internal/router"
	"github.com/Tyrowin/chatrelay/internal/session"
	"github.com/Tyrowin/chatrelay/internal/transport"
)

// ErrBind is returned when the listen address cannot be bound.
var ErrBind = errors.New("bind failed")

// Option customizes a Relay.
type Option func(*Relay)

// WithLogger routes the relay's logs through log.
func WithLogger(log *logrus.Logger) Option {
	return func(r *Relay) {
		r.log = logger.Component(log, "relay")
	}
}

// WithAuditStore records membership events in store. The caller keeps
// ownership and closes it after Shutdown.
func WithAuditStore(store audit.Store) Option {
	return func(r *Relay) {
		if store != nil {
			r.audit = store
		}
	}
}

// Relay is the chat relay server.
type Relay struct {
	cfg      *config.Config
	log      *logrus.Entry
	reg      *registry.Registry
	router   *router.Router
	audit    audit.Store
	origins  *originPolicy
	upgrader websocket.Upgrader
	server   *http.Server
	started  time.Time

	mu           sync.Mutex
	listener     net.Listener
	sessions     map[*session.Session]struct{}
	shuttingDown bool
	wg           sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Relay from cfg. A nil cfg uses config.Default.
func New(cfg *config.Config, opts ...Option) *Relay {
	if cfg == nil {
		cfg = config.Default()
	}

	r := &Relay{
		cfg:      cfg,
		log:      logger.Component(nil, "relay"),
		audit:    audit.Nop{},
		started:  time.Now(),
		sessions: make(map[*session.Session]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.reg = registry.New()
	r.router = router.New(r.reg, r.log.WithField("component", "router"))
	r.origins = newOriginPolicy(cfg.AllowedOrigins, r.log)
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     r.origins.check,
	}
	r.server = &http.Server{
		Handler:      r.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return r
}

// Registry returns the relay's membership registry.
func (r *Relay) Registry() *registry.Registry {
	return r.reg
}

// Router returns the relay's message router.
func (r *Relay) Router() *router.Router {
	return r.router
}

// Listen binds the configured address. It is called by Serve when needed.
func (r *Relay) Listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listener != nil {
		return nil
	}
	if r.shuttingDown {
		return http.ErrServerClosed
	}

	l, err := net.Listen("tcp", r.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, r.cfg.Address, err)
	}
	r.listener = l
	r.log.WithField("address", l.Addr().String()).Info("Relay listening")
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.cfg.Address
}

// Serve accepts connections until Shutdown. It returns nil after a clean
// shutdown.
func (r *Relay) Serve() error {
	if err := r.Listen(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}

	r.mu.Lock()
	l := r.listener
	r.mu.Unlock()

	err := r.server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) || r.isShuttingDown() {
		return nil
	}
	r.log.WithError(err).Error("Accept loop failed")
	return err
}

// ListenAndServe binds the configured address and serves on it. Bind
// failures wrap ErrBind.
func (r *Relay) ListenAndServe() error {
	return r.Serve()
}

// Shutdown stops accepting connections, closes every session and waits for
// them to finish or for ctx to expire. Later calls return the first result.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.shutdownErr = r.shutdown(ctx)
	})
	return r.shutdownErr
}

func (r *Relay) shutdown(ctx context.Context) error {
	r.log.Info("Initiating relay shutdown...")

	r.mu.Lock()
	r.shuttingDown = true
	sessions := make([]*session.Session, 0, len(r.sessions))
	for s := range r.sessions {
		sessions = append(sessions, s)
	}
	listener := r.listener
	r.mu.Unlock()

	// Hijacked WebSocket connections are not tracked by http.Server, so this
	// only waits for plain HTTP requests.
	if err := r.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		r.log.WithError(err).Warn("HTTP server shutdown error")
	}
	if listener != nil {
		if err := listener.Close(); err != nil && !transport.IsExpectedCloseError(err) {
			r.log.WithError(err).Debug("Error closing listener")
		}
	}

	for _, s := range sessions {
		s.Close(session.ReasonShutdown)
	}
	r.log.WithField("sessions", len(sessions)).Info("Closed client sessions")

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("Relay shutdown completed successfully")
		return nil
	case <-ctx.Done():
		r.log.Warn("Relay shutdown timeout reached, some sessions may still be running")
		return ctx.Err()
	}
}

func (r *Relay) isShuttingDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shuttingDown
}

// serveSession upgrades an HTTP request and runs a session on it until the
// connection ends.
func (r *Relay) serveSession(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.WithError(err).WithField("remote_addr", req.RemoteAddr).Debug("WebSocket upgrade failed")
		return
	}

	t := transport.NewWebSocket(conn, transport.Options{
		MaxMessageSize: r.cfg.MaxMessageSize,
		WriteTimeout:   r.cfg.Session.WriteTimeout,
		PongTimeout:    r.cfg.Session.PongTimeout,
	})
	s := session.New(t, r.router, session.Options{
		SendBuffer:       r.cfg.Session.SendBuffer,
		PingInterval:     r.cfg.Session.PingInterval,
		HandshakeTimeout: r.cfg.Session.HandshakeTimeout,
		RateLimit: session.RateLimit{
			Burst:          r.cfg.RateLimit.Burst,
			RefillInterval: r.cfg.RateLimit.RefillInterval,
		},
		Observer: &auditObserver{store: r.audit, log: r.log},
		Logger:   r.log.WithField("component", "session"),
	})

	if !r.track(s) {
		_ = t.WriteClose()
		_ = t.Close()
		return
	}

	go func() {
		defer r.untrack(s)
		s.Run()
	}()
}

// track adds s to the live set unless shutdown has begun.
func (r *Relay) track(s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shuttingDown {
		return false
	}
	r.sessions[s] = struct{}{}
	r.wg.Add(1)
	return true
}

func (r *Relay) untrack(s *session.Session) {
	r.mu.Lock()
	delete(r.sessions, s)
	r.mu.Unlock()
	r.wg.Done()
}

// SessionCount returns the number of live sessions, joined or not.
func (r *Relay) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
