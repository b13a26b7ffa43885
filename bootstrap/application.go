package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/najoast/relay/config"
	"github.com/najoast/relay/core"
	"github.com/najoast/relay/observability"
)

// Service names registered by the application
const (
	ServiceConfig = "config-watcher"
	ServiceNode   = "node"
)

// Options configures NewApplication
type Options struct {
	// ConfigFile is loaded and watched for changes; empty searches the
	// loader's paths once and does not watch
	ConfigFile string

	// Loader overrides the default configuration loader
	Loader *config.Loader

	// Logger overrides the logger built from the configuration
	Logger *zap.Logger

	// Registerer receives node metrics; nil uses the default registerer
	// when the configuration enables metrics
	Registerer prometheus.Registerer

	// Clock is passed to the node and the lifecycle manager
	Clock clock.Clock

	// Unroutable replaces the node's default unroutable sink
	Unroutable core.UnroutableHandler
}

// DefaultApplication implements the Application interface
type DefaultApplication struct {
	config   *config.Config
	configMu sync.RWMutex

	watcher *config.Watcher

	logger    *zap.Logger
	level     zap.AtomicLevel
	ownsLevel bool

	node *core.Node

	lifecycleManager *DefaultLifecycleManager

	// mutex protects running
	mutex   sync.Mutex
	running bool
}

var _ Application = (*DefaultApplication)(nil)

// NewApplication loads the configuration, builds the logger and the node and
// registers them as managed services. Workers can be bound on Node() before
// Start.
func NewApplication(opts Options) (*DefaultApplication, error) {
	loader := opts.Loader
	if loader == nil {
		loader = config.NewLoader()
	}

	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	if opts.ConfigFile != "" {
		watcher, err = config.NewWatcher(opts.ConfigFile, loader, opts.Logger)
		if err != nil {
			return nil, &ApplicationError{Operation: "load config", Err: err}
		}
		cfg = watcher.Config()
	} else {
		cfg, err = loader.AutoLoad()
		if err != nil {
			return nil, &ApplicationError{Operation: "load config", Err: err}
		}
	}

	app := &DefaultApplication{
		config:  cfg,
		watcher: watcher,
	}

	if opts.Logger != nil {
		app.logger = opts.Logger
		app.level = zap.NewAtomicLevelAt(observability.ParseLevel(cfg.Log.Level))
	} else {
		app.logger, app.level, err = observability.SetupLogger(cfg.Log, cfg.IsDevelopment())
		if err != nil {
			return nil, &ApplicationError{Operation: "setup logger", Err: err}
		}
		app.ownsLevel = true
	}
	app.logger = app.logger.With(zap.String("app", cfg.App.Name))
	if watcher != nil {
		watcher.SetLogger(app.logger)
	}

	nodeOpts := cfg.NodeOptions()
	nodeOpts.Logger = app.logger
	nodeOpts.Clock = opts.Clock
	nodeOpts.Unroutable = opts.Unroutable
	nodeOpts.Registerer = opts.Registerer
	if nodeOpts.Registerer == nil && cfg.Node.Metrics {
		nodeOpts.Registerer = prometheus.DefaultRegisterer
	}
	app.node = core.NewNode(nodeOpts)

	app.lifecycleManager = NewLifecycleManager(app.logger)
	if opts.Clock != nil {
		app.lifecycleManager.SetClock(opts.Clock)
	}

	if err := app.registerCoreServices(); err != nil {
		return nil, err
	}
	return app, nil
}

// Start starts all services
func (app *DefaultApplication) Start(ctx context.Context) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.running {
		return errors.New("application is already running")
	}
	if err := app.lifecycleManager.Start(ctx); err != nil {
		return err
	}

	app.running = true
	app.logger.Info("application started",
		zap.String("version", app.Config().App.Version),
		zap.String("environment", app.Config().App.Environment.String()),
	)
	return nil
}

// Run starts the application and waits for ctx or a termination signal
func (app *DefaultApplication) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	app.logger.Info("starting graceful shutdown", zap.NamedError("cause", context.Cause(sigCtx)))

	return app.Shutdown(context.Background())
}

// Shutdown stops all services in reverse order. The node gets the configured
// shutdown timeout to drain its queued deliveries.
func (app *DefaultApplication) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if !app.running {
		return nil
	}
	app.running = false

	err := app.lifecycleManager.Stop(ctx)
	if err != nil {
		app.logger.Warn("shutdown finished with errors", zap.Error(err))
	} else {
		app.logger.Info("application stopped")
	}
	_ = app.logger.Sync()
	return err
}

// Node returns the hosted node
func (app *DefaultApplication) Node() *core.Node {
	return app.node
}

// Config returns the current configuration
func (app *DefaultApplication) Config() *config.Config {
	app.configMu.RLock()
	defer app.configMu.RUnlock()
	return app.config
}

// Logger returns the application logger
func (app *DefaultApplication) Logger() *zap.Logger {
	return app.logger
}

// Level returns the configured log level. It controls the application logger
// only when that logger was built from configuration; a logger supplied in
// Options keeps its own level.
func (app *DefaultApplication) Level() zap.AtomicLevel {
	return app.level
}

// LifecycleManager returns the lifecycle manager
func (app *DefaultApplication) LifecycleManager() LifecycleManager {
	return app.lifecycleManager
}

func (app *DefaultApplication) registerCoreServices() error {
	if err := app.lifecycleManager.Register(ServiceNode, &NodeService{app: app}); err != nil {
		return err
	}
	if app.watcher != nil {
		app.watcher.OnConfigChange(app.applyConfig)
		if err := app.lifecycleManager.Register(ServiceConfig, &ConfigService{watcher: app.watcher}, ServiceNode); err != nil {
			return err
		}
	}
	return nil
}

// applyConfig takes over the settings that can change at runtime. Node
// settings only take effect on restart.
func (app *DefaultApplication) applyConfig(oldConfig, newConfig *config.Config) {
	app.configMu.Lock()
	app.config = newConfig
	app.configMu.Unlock()

	if oldConfig.Log.Level != newConfig.Log.Level {
		app.level.SetLevel(observability.ParseLevel(newConfig.Log.Level))
		if app.ownsLevel {
			app.logger.Info("log level changed",
				zap.Stringer("from", oldConfig.Log.Level),
				zap.Stringer("to", newConfig.Log.Level),
			)
		} else {
			app.logger.Info("configured log level changed; supplied logger keeps its own level",
				zap.Stringer("to", newConfig.Log.Level),
			)
		}
	}
	if oldConfig.Node != newConfig.Node {
		app.logger.Warn("node settings changed; restart to apply them")
	}

	app.lifecycleManager.Publish(LifecycleEvent{Type: EventConfigReloaded, Service: ServiceConfig})
}

// NodeService manages the node's delivery lanes
type NodeService struct {
	app *DefaultApplication
}

func (s *NodeService) Name() string { return ServiceNode }

// Start is a no-op: the node accepts deliveries from construction so that
// workers can be bound before the application starts.
func (s *NodeService) Start(ctx context.Context) error {
	return nil
}

func (s *NodeService) Stop(ctx context.Context) error {
	timeout := s.app.Config().Node.ShutdownTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.app.node.Shutdown(ctx); err != nil {
		return fmt.Errorf("drain node: %w", err)
	}
	return nil
}

func (s *NodeService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{
		State:   HealthHealthy,
		Message: "node running",
		Data: map[string]any{
			"workers":       len(s.app.node.Workers()),
			"pending":       s.app.node.Pending(),
			"address_types": len(s.app.node.Router().Types()),
		},
	}, nil
}

// ConfigService runs the configuration watcher
type ConfigService struct {
	watcher *config.Watcher
}

func (s *ConfigService) Name() string { return ServiceConfig }

func (s *ConfigService) Start(ctx context.Context) error {
	return s.watcher.Start()
}

func (s *ConfigService) Stop(ctx context.Context) error {
	return s.watcher.Stop()
}

func (s *ConfigService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{State: HealthHealthy, Message: "watching configuration"}, nil
}
