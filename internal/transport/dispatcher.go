package transport

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"qservworker/internal/logging"
	"qservworker/internal/task"
)

// DispatcherConfig configures accept-loop bounds.
type DispatcherConfig struct {
	// MaxSessions caps concurrently open connections; 0 disables the cap.
	MaxSessions int
	// AcceptRate paces how fast new connections are handed off, guarding
	// against a thundering herd of reconnects; zero disables pacing.
	AcceptRate  rate.Limit
	AcceptBurst int
	MaxFrame    uint32
	// Authenticator, if non-nil, requires every connection to present a
	// valid bearer token as a second provisioning frame, right after the
	// resource path frame.
	Authenticator Authenticator
	Logger        *slog.Logger
}

// Dispatcher runs the accept loop: for every inbound connection it reads
// a provisioning resource path frame (followed by an auth frame when an
// Authenticator is configured), then hands the connection to a
// Session bound to that resource and handler. Grounded on gastrolog's
// rate-limited server accept path (internal/server/ratelimit.go) and its
// errgroup-managed background goroutines.
type Dispatcher struct {
	listener net.Listener
	handler  RequestHandler
	cfg      DispatcherConfig
	logger   *slog.Logger
	limiter  *rate.Limiter

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewDispatcher wraps ln with the configured session ceiling and accept
// pacing, and will hand every provisioned connection to handler.
func NewDispatcher(ln net.Listener, handler RequestHandler, cfg DispatcherConfig) *Dispatcher {
	wrapped := ln
	if cfg.MaxSessions > 0 {
		wrapped = netutil.LimitListener(ln, cfg.MaxSessions)
	}
	var limiter *rate.Limiter
	if cfg.AcceptRate > 0 {
		limiter = rate.NewLimiter(cfg.AcceptRate, cfg.AcceptBurst)
	}
	return &Dispatcher{
		listener: wrapped,
		handler:  handler,
		cfg:      cfg,
		logger:   logging.Default(cfg.Logger).With("component", "transport.dispatcher"),
		limiter:  limiter,
		sessions: make(map[*Session]struct{}),
	}
}

// Serve accepts connections until ctx is cancelled or the listener
// errors, running each session on its own goroutine under an errgroup so
// Serve can wait for in-flight sessions to finish unwinding on shutdown.
func (d *Dispatcher) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return d.listener.Close()
	})

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return g.Wait()
			default:
				d.logger.Warn("accept failed", "err", err)
				return err
			}
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				_ = conn.Close()
				continue
			}
		}
		g.Go(func() error {
			d.serveConn(conn)
			return nil
		})
	}
}

// serveConn performs the provisioning handshake (resource path frame, then
// the auth frame when an Authenticator is configured), then runs the
// session loop until the connection closes.
func (d *Dispatcher) serveConn(conn net.Conn) {
	defer conn.Close()

	fr := NewFrameReader(conn, d.cfg.MaxFrame)
	raw, err := fr.ReadFrame()
	if err != nil {
		d.logger.Debug("closing connection: provisioning frame read failed", "err", err)
		return
	}
	resource, err := ParseResource(string(raw))
	if err != nil {
		d.logger.Debug("closing connection: bad provisioning resource", "err", err)
		fw := NewFrameWriter(conn)
		_ = fw.WriteValue(ErrorReply{Status: QueryReplyFailed, Message: err.Error()})
		return
	}

	if d.cfg.Authenticator != nil {
		var auth authFrame
		if err := fr.ReadInto(&auth); err != nil {
			d.logger.Debug("closing connection: auth frame read failed", "err", err)
			return
		}
		subject, err := d.cfg.Authenticator.Authenticate(auth.Token)
		if err != nil {
			d.logger.Debug("closing connection: authentication failed", "err", err)
			fw := NewFrameWriter(conn)
			_ = fw.WriteValue(ErrorReply{Status: QueryReplyFailed, Message: "authentication failed", Code: task.ErrorKindUnauthorized.Code()})
			return
		}
		d.logger.Debug("session authenticated", "subject", subject, "resource", resource.String())
	}

	session := NewSession(conn, resource, d.handler, d.cfg.MaxFrame, d.logger)
	d.addSession(session)
	defer d.removeSession(session)

	session.Serve()
}

func (d *Dispatcher) addSession(s *Session) {
	d.mu.Lock()
	d.sessions[s] = struct{}{}
	d.mu.Unlock()
}

func (d *Dispatcher) removeSession(s *Session) {
	d.mu.Lock()
	delete(d.sessions, s)
	d.mu.Unlock()
}

// SessionCount returns the number of currently open sessions.
func (d *Dispatcher) SessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Shutdown closes every currently tracked session's connection, forcing
// their Serve loops to unwind. It does not wait for them to finish; call
// it after cancelling the context passed to Serve and before giving up on
// graceful shutdown.
func (d *Dispatcher) Shutdown(_ context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for s := range d.sessions {
		s.Unprovision()
	}
}
