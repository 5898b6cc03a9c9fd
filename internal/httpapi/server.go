// Package httpapi exposes notifications, the realtime stream and the
// maintenance controls over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"trackerd/internal/model"
	"trackerd/internal/notify"
	"trackerd/internal/realtime"
	logx "trackerd/pkg/logx"
)

// Notifications is the part of notify.Service the API uses.
type Notifications interface {
	Dispatch(ctx context.Context, recipients []model.Recipient, title, message string, related *model.Related) ([]model.Notification, error)
	MarkRead(ctx context.Context, recipientID, notificationID string) (bool, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	List(ctx context.Context, recipientID string, page, limit int, unreadOnly bool) (notify.Page, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
}

// Streams opens one realtime channel per stream connection.
type Streams interface {
	Open() (channelID string, events <-chan realtime.Event, closeFn func())
}

// Presence records which channel a connected recipient listens on.
type Presence interface {
	Register(recipientID, channelID string)
	UnregisterChannel(recipientID, channelID string) bool
	Len() int
}

// JobRunner triggers a scheduled job out of band.
type JobRunner interface {
	RunNow(name string) (bool, error)
}

// MailSender delivers a plain text message.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Config struct {
	Addr              string
	JWTSecret         string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	// Heartbeat is the stream keep-alive interval.
	Heartbeat time.Duration
	// SweepJob names the scheduler job behind the manual sweep endpoint.
	SweepJob string
}

// Deps are the services behind the routes. Mailer and Jobs may be nil;
// their endpoints then answer 503.
type Deps struct {
	Notifications Notifications
	Streams       Streams
	Presence      Presence
	Jobs          JobRunner
	Mailer        MailSender
	// Health contributes extra fields to GET /health.
	Health func() map[string]any
}

type Server struct {
	cfg    Config
	deps   Deps
	log    logx.Logger
	router *gin.Engine
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 25 * time.Second
	}

	router := gin.New()
	router.Use(recovery(log), accessLog(log))
	s := &Server{cfg: cfg, deps: deps, log: log, router: router}
	s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api/v1")
	api.Use(JWTAuth(s.cfg.JWTSecret))
	{
		n := api.Group("/notifications")
		n.GET("", s.handleList)
		n.GET("/unread-count", s.handleUnreadCount)
		n.PUT("/:id/read", s.handleMarkRead)
		n.PUT("/read-all", s.handleMarkAllRead)

		api.GET("/stream", s.handleStream)

		internal := api.Group("/internal", RequireScope(ScopeService))
		internal.POST("/notifications", s.handleDispatch)
		internal.POST("/maintenance/sweep", s.handleSweep)
		internal.POST("/mail/test", s.handleMailTest)
	}
}

// Serve listens on the configured address until ctx ends, then shuts the
// server down within ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		// Streams hold their request context; cancel them with the server.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http shutdown incomplete; closing", logx.Err(err))
		_ = srv.Close()
	}
	<-errCh
	s.log.Info("http server stopped")
	return nil
}
