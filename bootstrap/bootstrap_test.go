package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/najoast/relay/config"
	"github.com/najoast/relay/core"
	"github.com/najoast/relay/workers"
)

// recorder collects service calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// testService is a simple service implementation for testing
type testService struct {
	name     string
	rec      *recorder
	startErr error
	stopErr  error
	health   error
}

func (s *testService) Name() string { return s.name }

func (s *testService) Start(ctx context.Context) error {
	s.rec.add("start " + s.name)
	return s.startErr
}

func (s *testService) Stop(ctx context.Context) error {
	s.rec.add("stop " + s.name)
	return s.stopErr
}

func (s *testService) Health(ctx context.Context) (HealthStatus, error) {
	if s.health != nil {
		return HealthStatus{}, s.health
	}
	return HealthStatus{State: HealthHealthy}, nil
}

func TestLifecycleOrder(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager(zaptest.NewLogger(t))

	require.NoError(t, lm.Register("c", &testService{name: "c", rec: rec}, "b"))
	require.NoError(t, lm.Register("a", &testService{name: "a", rec: rec}))
	require.NoError(t, lm.Register("b", &testService{name: "b", rec: rec}, "a"))

	ctx := context.Background()
	require.NoError(t, lm.Start(ctx))
	assert.True(t, lm.IsStarted())
	assert.ErrorIs(t, lm.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, lm.Stop(ctx))
	assert.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, rec.all())
	assert.Equal(t, []string{"a", "b", "c"}, lm.Services())

	// Stopping twice is a no-op
	require.NoError(t, lm.Stop(ctx))
}

func TestLifecycleStartFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager(zaptest.NewLogger(t))
	boom := errors.New("boom")

	require.NoError(t, lm.Register("a", &testService{name: "a", rec: rec}))
	require.NoError(t, lm.Register("b", &testService{name: "b", rec: rec, startErr: boom}, "a"))

	err := lm.Start(context.Background())
	require.ErrorIs(t, err, boom)

	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "b", appErr.Service)
	assert.Equal(t, []string{"start a", "start b", "stop a"}, rec.all())
	assert.False(t, lm.IsStarted())
}

func TestLifecycleStopCombinesErrors(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager(nil)

	require.NoError(t, lm.Register("a", &testService{name: "a", rec: rec, stopErr: errors.New("a failed")}))
	require.NoError(t, lm.Register("b", &testService{name: "b", rec: rec, stopErr: errors.New("b failed")}, "a"))

	require.NoError(t, lm.Start(context.Background()))
	err := lm.Stop(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, rec.all())
}

func TestLifecycleRegistrationErrors(t *testing.T) {
	rec := &recorder{}

	t.Run("invalid", func(t *testing.T) {
		lm := NewLifecycleManager(nil)
		assert.ErrorIs(t, lm.Register("", &testService{rec: rec}), ErrInvalidRegistration)
		assert.ErrorIs(t, lm.Register("x", nil), ErrInvalidRegistration)
	})

	t.Run("duplicate", func(t *testing.T) {
		lm := NewLifecycleManager(nil)
		require.NoError(t, lm.Register("x", &testService{name: "x", rec: rec}))
		assert.ErrorIs(t, lm.Register("x", &testService{name: "x", rec: rec}), ErrServiceRegistered)
	})

	t.Run("unknown dependency", func(t *testing.T) {
		lm := NewLifecycleManager(nil)
		require.NoError(t, lm.Register("x", &testService{name: "x", rec: rec}, "missing"))
		assert.ErrorIs(t, lm.Start(context.Background()), ErrUnknownDependency)
	})

	t.Run("cycle", func(t *testing.T) {
		lm := NewLifecycleManager(nil)
		require.NoError(t, lm.Register("x", &testService{name: "x", rec: rec}, "y"))
		require.NoError(t, lm.Register("y", &testService{name: "y", rec: rec}, "x"))
		assert.ErrorIs(t, lm.Start(context.Background()), ErrCircularDependency)
	})

	t.Run("after start", func(t *testing.T) {
		lm := NewLifecycleManager(nil)
		require.NoError(t, lm.Start(context.Background()))
		assert.ErrorIs(t, lm.Register("late", &testService{name: "late", rec: rec}), ErrAlreadyStarted)
	})
}

func TestLifecycleHealth(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	lm := NewLifecycleManager(nil)
	lm.SetClock(mock)
	rec := &recorder{}
	require.NoError(t, lm.Register("ok", &testService{name: "ok", rec: rec}))
	require.NoError(t, lm.Register("sick", &testService{name: "sick", rec: rec, health: errors.New("no disk")}))

	health := lm.Health(context.Background())
	assert.Equal(t, HealthHealthy, health["ok"].State)
	assert.Equal(t, HealthUnhealthy, health["sick"].State)
	assert.Equal(t, "no disk", health["sick"].Message)
	assert.True(t, health["ok"].LastCheck.Equal(mock.Now()))
}

func TestLifecycleEvents(t *testing.T) {
	lm := NewLifecycleManager(nil)

	var mu sync.Mutex
	seen := map[string]bool{}
	lm.AddListener(func(e LifecycleEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Type] = true
	})
	lm.AddListener(func(LifecycleEvent) { panic("listener failure") })

	require.NoError(t, lm.Register("a", &testService{name: "a", rec: &recorder{}}))
	require.NoError(t, lm.Start(context.Background()))

	var types []string
	for len(lm.Events()) > 0 {
		types = append(types, (<-lm.Events()).Type)
	}
	assert.Equal(t, []string{
		EventServiceRegistered,
		EventLifecycleStarting,
		EventServiceStarting,
		EventServiceStarted,
		EventLifecycleStarted,
	}, types)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[EventLifecycleStarted]
	}, time.Second, 5*time.Millisecond)
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestApp(t *testing.T, configYAML string, unroutable core.UnroutableHandler) (*DefaultApplication, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	writeConfig(t, path, configYAML)

	app, err := NewApplication(Options{
		ConfigFile: path,
		Loader:     config.NewLoader().SetSearchPaths(nil).SetEnvPrefix("RELAY_TEST"),
		Logger:     zaptest.NewLogger(t),
		Registerer: prometheus.NewRegistry(),
		Unroutable: unroutable,
	})
	require.NoError(t, err)
	return app, path
}

func TestApplicationRoutesMessages(t *testing.T) {
	var (
		mu      sync.Mutex
		reasons []error
	)
	app, _ := newTestApp(t, "app:\n  name: test-app\nnode:\n  lanes: 2\n", func(_ *core.Message, reason error) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, reason)
	})

	assert.Equal(t, "test-app", app.Config().App.Name)
	assert.Equal(t, []string{ServiceConfig, ServiceNode}, app.LifecycleManager().Services())

	node := app.Node()
	received := make(chan *core.Message, 1)
	_, err := node.StartWorker("h1", workers.Hop{})
	require.NoError(t, err)
	_, err = node.StartWorker("printer", &workers.Printer{
		OnMessage: func(_ *core.Context, msg *core.Message) { received <- msg },
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	assert.Error(t, app.Start(ctx))

	health := app.LifecycleManager().Health(ctx)
	assert.Equal(t, HealthHealthy, health[ServiceNode].State)
	assert.Equal(t, 2, health[ServiceNode].Data["workers"])

	node.Route(core.NewMessage(core.RouteOf("h1", "printer"), core.Route{}, "hello"))
	select {
	case msg := <-received:
		assert.Equal(t, core.RouteOf("h1"), msg.ReturnRoute)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	require.NoError(t, app.Shutdown(ctx))
	require.NoError(t, app.Shutdown(ctx))

	node.Route(core.NewMessage(core.RouteOf("printer"), core.Route{}, "late"))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reasons, 1)
	assert.ErrorIs(t, reasons[0], core.ErrNodeStopped)
}

func TestApplicationReloadsLogLevel(t *testing.T) {
	app, path := newTestApp(t, "log:\n  level: info\n", nil)
	assert.Equal(t, zapcore.InfoLevel, app.Level().Level())

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	t.Cleanup(func() { _ = app.Shutdown(ctx) })

	writeConfig(t, path, "log:\n  level: debug\nnode:\n  lanes: 9\n")

	require.Eventually(t, func() bool {
		return app.Level().Level() == zapcore.DebugLevel
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 9, app.Config().Node.Lanes)
}

func TestApplicationSuppliedLoggerKeepsItsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	writeConfig(t, path, "log:\n  level: info\n")

	obsCore, logs := observer.New(zapcore.InfoLevel)
	app, err := NewApplication(Options{
		ConfigFile: path,
		Loader:     config.NewLoader().SetSearchPaths(nil).SetEnvPrefix("RELAY_TEST"),
		Logger:     zap.New(obsCore),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	t.Cleanup(func() { _ = app.Shutdown(ctx) })

	writeConfig(t, path, "log:\n  level: debug\n")
	require.Eventually(t, func() bool {
		return logs.FilterMessage("configured log level changed; supplied logger keeps its own level").Len() == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, zapcore.DebugLevel, app.Level().Level())

	app.Logger().Debug("still filtered")
	assert.Zero(t, logs.FilterMessage("still filtered").Len())
	assert.Zero(t, logs.FilterMessage("log level changed").Len())
}

func TestApplicationInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	writeConfig(t, path, "app:\n  environment: moon\n")

	_, err := NewApplication(Options{
		ConfigFile: path,
		Loader:     config.NewLoader().SetSearchPaths(nil).SetEnvPrefix("RELAY_TEST"),
		Logger:     zaptest.NewLogger(t),
	})
	require.Error(t, err)

	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "load config", appErr.Operation)
	assert.ErrorIs(t, err, config.ErrInvalidEnvironment)
}

func TestApplicationRunStopsWithContext(t *testing.T) {
	app, _ := newTestApp(t, "app:\n  name: runner\n", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return app.lifecycleManager.IsStarted()
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, app.lifecycleManager.IsStarted())
}
