package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// AlertConfig forwards high-severity records to an operator mailbox.
type AlertConfig struct {
	Enabled       bool
	To            string
	MinLevel      string
	RatePerMinute int
}

// AlertSender delivers one alert. The mailer satisfies it.
type AlertSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Service owns the live sink set. Loggers derived from it pick up every Apply.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // zerolog.Logger

	file *os.File
	// closeFile releases a replaced log file; nil means (*os.File).Close.
	closeFile func(*os.File) error

	appName string
	sender  AlertSender
	alerts  *alertSink
}

// New creates the service, applies cfg and returns the root logger.
// sender may be nil, in which case alerting stays off regardless of cfg.
func New(cfg Config, appName string, sender AlertSender) (*Service, Logger) {
	setGlobals()

	s := &Service{cfg: cfg, appName: appName, sender: sender}
	s.root.Store(zerolog.New(newConsoleWriter(Stdout())).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetAlertSender installs the alert transport after construction; the mailer
// needs a logger first, so it is usually wired in this order.
func (s *Service) SetAlertSender(sender AlertSender) {
	s.mu.Lock()
	s.sender = sender
	cfg := s.cfg
	s.mu.Unlock()
	s.Apply(cfg)
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	a := s.alerts
	s.alerts = nil
	s.mu.Unlock()

	if a != nil {
		a.stop()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps sinks and level at runtime. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	// The previous sinks stay live until the new root is stored.
	oldFile, oldAlerts := s.file, s.alerts
	s.file = nil

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(Stdout()))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./trackerd.log"
		}
		f, err := openLogFile(path)
		if err != nil {
			fmt.Fprintf(Stderr(), "logx: failed opening log file %q: %v\n", path, err)
			writers = append(writers, NewLineWriter(nil, Stderr()))
		} else {
			s.file = f
			writers = append(writers, NewLineWriter(f, Stderr()))
		}
	}

	if cfg.Alert.Enabled && s.sender != nil && strings.TrimSpace(cfg.Alert.To) != "" {
		if s.alerts == nil {
			s.alerts = newAlertSink(s.sender, s.appName)
		}
		s.alerts.configure(cfg.Alert)
		writers = append(writers, s.alerts)
	} else {
		s.alerts = nil
	}

	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(Stdout()))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(zl)

	if oldFile != nil {
		closeFile := s.closeFile
		if closeFile == nil {
			closeFile = (*os.File).Close
		}
		_ = closeFile(oldFile)
	}
	if oldAlerts != nil && oldAlerts != s.alerts {
		oldAlerts.stop()
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func newConsoleWriter(w io.Writer) io.Writer {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	cw.FormatCaller = func(i interface{}) string {
		s, _ := i.(string)
		return s
	}
	return cw
}

// ---- alert sink ----

type alertItem struct {
	to      string
	subject string
	body    string
}

type alertSink struct {
	sender  AlertSender
	appName string
	queue   chan alertItem

	mu       sync.Mutex
	to       string
	minLevel zerolog.Level
	limiter  *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newAlertSink(sender AlertSender, appName string) *alertSink {
	ctx, cancel := context.WithCancel(context.Background())
	a := &alertSink{
		sender:  sender,
		appName: appName,
		queue:   make(chan alertItem, 64),
		cancel:  cancel,
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
	return a
}

func (a *alertSink) configure(cfg AlertConfig) {
	perMin := cfg.RatePerMinute
	if perMin <= 0 {
		perMin = 6
	}
	a.mu.Lock()
	a.to = strings.TrimSpace(cfg.To)
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.ErrorLevel)
	a.limiter = rate.NewLimiter(rate.Limit(float64(perMin)/60), perMin)
	a.mu.Unlock()
}

func (a *alertSink) stop() {
	a.cancel()
	a.wg.Wait()
}

func (a *alertSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-a.queue:
			if err := a.sender.Send(ctx, it.to, it.subject, it.body); err != nil {
				// Not logged through the service: that would feed this sink again.
				fmt.Fprintf(Stderr(), "logx: alert delivery failed: %v\n", err)
			}
		}
	}
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.InfoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	to := a.to
	minLvl := a.minLevel
	lim := a.limiter
	a.mu.Unlock()

	if to == "" || lim == nil || level < minLvl || !lim.Allow() {
		return len(p), nil
	}

	line := strings.TrimSpace(FormatLine(level, p))
	subject := fmt.Sprintf("[%s] %s", a.appName, truncate(line, 120))
	select {
	case a.queue <- alertItem{to: to, subject: subject, body: line}:
	default:
	}
	return len(p), nil
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}

// Stdout returns the configured stdout sink.
func Stdout() io.Writer { return os.Stdout }

// Stderr returns the configured stderr sink.
func Stderr() io.Writer { return os.Stderr }
