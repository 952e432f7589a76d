package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/getmockd/mockctl/pkg/admin"
	"github.com/getmockd/mockctl/pkg/config"
	"github.com/getmockd/mockctl/pkg/control"
	"github.com/getmockd/mockctl/pkg/engine"
	"github.com/getmockd/mockctl/pkg/lifecycle"
	"github.com/getmockd/mockctl/pkg/metrics"
	"github.com/getmockd/mockctl/pkg/mqttctl"
	"github.com/getmockd/mockctl/pkg/prefs"
	"github.com/getmockd/mockctl/pkg/recording"
	"github.com/getmockd/mockctl/pkg/resolver"
	"github.com/getmockd/mockctl/pkg/toggle"
	"github.com/getmockd/mockctl/pkg/watch"
)

// shutdownTimeout bounds the graceful shutdown of the admin API.
const shutdownTimeout = 10 * time.Second

// daemon is the assembled serve process.
type daemon struct {
	cfg     *config.Config
	log     *slog.Logger
	version string

	store      prefs.Store
	recordings *recording.Store
	metrics    *metrics.Metrics
	surface    *control.Surface
	api        *admin.API
	broker     *mqttctl.Broker
	bridge     *mqttctl.Bridge
	watcher    *watch.Watcher

	// ready is closed once every component is up.
	ready chan struct{}
}

func newDaemon(cfg *config.Config, log *slog.Logger, version string) (*daemon, error) {
	d := &daemon{cfg: cfg, log: log, version: version, ready: make(chan struct{})}

	store, err := prefs.Open(cfg.Prefs, log)
	if err != nil {
		return nil, fmt.Errorf("opening preferences: %w", err)
	}
	d.store = store

	if cfg.Admin.Metrics {
		d.metrics = metrics.New()
	}

	d.recordings = recording.NewStore(cfg.Engine.RecordingsLimit)
	d.recordings.OnChange(d.metrics.Recordings)
	if path := d.recordingsFile(); path != "" {
		n, err := d.recordings.LoadFromFile(path)
		if err != nil {
			log.Warn("could not load recordings", "path", path, "error", err)
		} else if n > 0 {
			log.Info("loaded recordings", "path", path, "count", n)
		}
	}

	resolverOpts := []resolver.Option{
		resolver.WithLogger(log),
		resolver.WithHTTPClient(&http.Client{Timeout: cfg.Resolver.HTTPTimeout}),
	}
	if cfg.AssetsDir != "" {
		resolverOpts = append(resolverOpts, resolver.WithAssets(os.DirFS(config.ExpandHome(cfg.AssetsDir))))
	}
	res := resolver.New(resolverOpts...)

	engineOpts := engine.Options{
		Address:         cfg.Engine.Address,
		Logger:          log,
		Recordings:      d.recordings,
		OnRequest:       d.metrics.EngineRequest,
		ShutdownTimeout: cfg.Engine.ShutdownTimeout,
	}
	factory := func(r io.Reader) (toggle.Engine, error) {
		return engineOpts.Build(r)
	}

	pidPath := cfg.PIDFile
	if pidPath == "" {
		pidPath = lifecycle.DefaultPIDPath()
	}
	host := lifecycle.NewPIDHost(config.ExpandHome(pidPath), version, cfg.Admin.Address)

	d.surface = control.New(res, factory, store,
		control.WithLogger(log),
		control.WithHost(host),
		control.WithMetrics(d.metrics),
	)

	apiOpts := []admin.Option{
		admin.WithAddress(cfg.Admin.Address),
		admin.WithLogger(log),
		admin.WithRecordings(d.recordings),
		admin.WithVersion(version),
		admin.WithSettleDelay(cfg.Reconcile.SettleDelay),
	}
	if d.metrics != nil {
		apiOpts = append(apiOpts, admin.WithMetrics(d.metrics))
	}
	d.api = admin.New(d.surface, apiOpts...)

	if cfg.MQTT.Enabled {
		if cfg.MQTT.EmbeddedBroker != "" {
			d.broker, err = mqttctl.NewBroker(cfg.MQTT.EmbeddedBroker, log)
			if err != nil {
				return nil, err
			}
		}
		mcfg := cfg.MQTT.Config
		mcfg.Broker = cfg.MQTT.BrokerURL()
		d.bridge, err = mqttctl.New(d.surface, mcfg, log)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Watch.Enabled {
		d.watcher = watch.New(d.surface, watch.WithDebounce(cfg.Watch.Debounce), watch.WithLogger(log))
	}
	return d, nil
}

func (d *daemon) recordingsFile() string {
	return config.ExpandHome(d.cfg.Engine.RecordingsFile)
}

// run starts every component, blocks until ctx is done or a component
// fails, then shuts everything down in reverse order.
func (d *daemon) run(ctx context.Context) error {
	defer d.closeStore()

	if err := d.surface.Start(ctx); err != nil {
		return err
	}
	defer d.closeSurface()

	if err := d.api.Start(); err != nil {
		return err
	}
	defer d.closeAPI()

	if d.broker != nil {
		if err := d.broker.Start(); err != nil {
			return err
		}
		defer func() { _ = d.broker.Close() }()
	}
	if d.bridge != nil {
		if err := d.bridge.Start(ctx); err != nil {
			return err
		}
		defer d.bridge.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	if d.watcher != nil {
		g.Go(func() error { return d.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	d.log.Info("mockctl daemon ready",
		"admin", d.api.Addr(),
		"engine", d.cfg.Engine.Address,
		"mqtt", d.bridge != nil,
		"watch", d.watcher != nil,
	)
	close(d.ready)

	err := g.Wait()
	d.log.Info("shutting down")
	return err
}

func (d *daemon) closeAPI() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.api.Close(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		d.log.Warn("admin API shutdown", "error", err)
	}
}

func (d *daemon) closeSurface() {
	if err := d.surface.Close(); err != nil {
		d.log.Warn("control surface shutdown", "error", err)
	}
	if path := d.recordingsFile(); path != "" {
		if err := d.recordings.SaveToFile(path); err != nil {
			d.log.Warn("could not save recordings", "path", path, "error", err)
		}
	}
}

func (d *daemon) closeStore() {
	if err := d.store.Close(); err != nil {
		d.log.Warn("closing preferences", "error", err)
	}
}
