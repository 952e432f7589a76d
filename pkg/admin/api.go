package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getmockd/mockctl/pkg/control"
	"github.com/getmockd/mockctl/pkg/logging"
	"github.com/getmockd/mockctl/pkg/metrics"
	"github.com/getmockd/mockctl/pkg/reconcile"
	"github.com/getmockd/mockctl/pkg/recording"
)

// DefaultAddress is where the admin API listens unless configured.
const DefaultAddress = "127.0.0.1:4290"

// API serves the admin routes for one control surface.
type API struct {
	surface    *control.Surface
	reconciler *reconcile.Reconciler
	recordings *recording.Store
	metrics    *metrics.Metrics
	hub        *hub
	log        *slog.Logger

	address     string
	version     string
	settleDelay time.Duration
	startTime   time.Time

	handler     http.Handler
	unsubscribe func()
	relayDone   chan struct{}

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
	closed   bool
}

// Option configures an API.
type Option func(*API)

// WithAddress sets the listen address for Start.
func WithAddress(addr string) Option {
	return func(a *API) {
		if addr != "" {
			a.address = addr
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *API) {
		if log != nil {
			a.log = log
		}
	}
}

// WithRecordings exposes the engine's recording store.
func WithRecordings(s *recording.Store) Option {
	return func(a *API) { a.recordings = s }
}

// WithMetrics serves m on /metrics and counts rollbacks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) { a.metrics = m }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithSettleDelay sets the reconciler settle delay used by PUT /settings.
func WithSettleDelay(d time.Duration) Option {
	return func(a *API) { a.settleDelay = d }
}

// New creates the API for surface. It subscribes to status changes at
// once; call Close to release the subscription.
func New(surface *control.Surface, opts ...Option) *API {
	a := &API{
		surface:     surface,
		address:     DefaultAddress,
		settleDelay: reconcile.DefaultSettleDelay,
		log:         logging.Nop(),
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = logging.Component(a.log, "admin")
	a.hub = newHub(a.log)

	a.reconciler = reconcile.New(reconcile.Local(surface), reconcile.ViewFunc(a.publishRollback),
		reconcile.WithSettleDelay(a.settleDelay),
		reconcile.WithLogger(a.log),
		reconcile.WithRollbackHook(a.metrics.Rollback),
	)

	updates, unsubscribe := surface.Subscribe()
	a.unsubscribe = unsubscribe
	a.relayDone = make(chan struct{})
	go a.relay(updates)

	mux := http.NewServeMux()
	a.registerRoutes(mux)
	a.handler = a.withMiddleware(mux)
	return a
}

func (a *API) relay(updates <-chan control.Status) {
	defer close(a.relayDone)
	for st := range updates {
		a.hub.publish(Event{Type: EventStatus, Time: time.Now(), Status: &st})
	}
}

func (a *API) publishRollback(rb reconcile.Rollback) {
	a.hub.publish(Event{Type: EventRollback, Time: time.Now(), Rollback: &rb})
}

// Handler returns the HTTP handler.
func (a *API) Handler() http.Handler { return a.handler }

// Reconciler returns the daemon-side reconciler behind PUT /settings.
func (a *API) Reconciler() *reconcile.Reconciler { return a.reconciler }

// Uptime returns seconds since the API was created.
func (a *API) Uptime() int {
	return int(time.Since(a.startTime).Seconds())
}

// Start listens on the configured address and serves in the background.
// The listen error, if any, is returned synchronously.
func (a *API) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.New("admin API is closed")
	}
	if a.server != nil {
		return errors.New("admin API is already running")
	}

	ln, err := net.Listen("tcp", a.address)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", a.address, err)
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.done = make(chan struct{})

	srv, done := a.server, a.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("admin server error", "error", err)
		}
	}()

	a.log.Info("admin API started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (a *API) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.address
}

// Close shuts the listener down, drains the reconciler and disconnects
// event subscribers.
func (a *API) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	srv, done := a.server, a.done
	a.mu.Unlock()

	a.hub.close()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
		<-done
	}

	a.reconciler.Close()
	a.unsubscribe()
	<-a.relayDone
	a.log.Info("admin API stopped")
	return err
}
