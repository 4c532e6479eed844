package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenticklabs/agentick/internal/adapter"
	"github.com/agenticklabs/agentick/internal/app"
	"github.com/agenticklabs/agentick/internal/config"
	"github.com/agenticklabs/agentick/internal/core"
	"github.com/agenticklabs/agentick/internal/gateway"
	"github.com/agenticklabs/agentick/internal/pipeline"
	"github.com/agenticklabs/agentick/internal/render"
	"github.com/agenticklabs/agentick/internal/session"
	"github.com/agenticklabs/agentick/internal/transport/socketio"
	"github.com/agenticklabs/agentick/internal/transport/sse"
	"github.com/agenticklabs/agentick/internal/transport/unixsock"
	"github.com/agenticklabs/agentick/internal/transport/wsocket"
	"github.com/agenticklabs/agentick/pkg/message"
)

// gatewayModule wraps the Gateway and its app registry to satisfy
// core.Module, core.Starter, and core.Stopper, so both participate in
// the runtime lifecycle. The registry closes after the gateway stops.
type gatewayModule struct {
	gw       *gateway.Gateway
	registry *app.Registry
}

func (m *gatewayModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "gateway"}
}

func (m *gatewayModule) Start() error {
	return m.gw.Start(context.Background())
}

func (m *gatewayModule) Stop(ctx context.Context) error {
	err := m.gw.Stop(ctx)
	m.registry.Close()
	return err
}

// sweeperModule adapts an *app.Sweeper into the runtime lifecycle.
type sweeperModule struct {
	sweeper *app.Sweeper
}

func (m *sweeperModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "sweeper"}
}

func (m *sweeperModule) Start() error { return m.sweeper.Start() }

func (m *sweeperModule) Stop(ctx context.Context) error { return m.sweeper.Stop(ctx) }

// wireGateway builds the app registry from the configured apps, creates
// the gateway with its transports and metrics, and appends both the
// gateway and the idle sweeper to the runtime lifecycle. Must be called
// after LoadModules and before Start.
func wireGateway(runtime *core.Runtime, appCtx *core.AppContext, cfg *config.Config, logger *slog.Logger) error {
	// Snapshot store: an opt-in store module registers the service;
	// without one, hibernated sessions survive only this process.
	var store app.SnapshotStore
	if svc, ok := appCtx.Service("store.snapshots"); ok {
		store, ok = svc.(app.SnapshotStore)
		if !ok {
			return fmt.Errorf("wire: service store.snapshots has type %T", svc)
		}
		logger.Info("wire: using persistent snapshot store")
	} else {
		store = app.NewMemStore()
	}

	registry := app.NewRegistry(app.RegistryConfig{
		Store:  store,
		Logger: logger,
	})

	names := make([]string, 0, len(cfg.Apps))
	for name := range cfg.Apps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		a, err := buildApp(appCtx, name, cfg.Apps[name], logger)
		if err != nil {
			return err
		}
		if err := registry.RegisterApp(a); err != nil {
			return fmt.Errorf("wire: registering app %q: %w", name, err)
		}
		logger.Info("wire: registered app", "app", name, "adapter", cfg.Apps[name].Adapter)
	}

	gw, err := gateway.New(cfg.Gateway, registry, logger)
	if err != nil {
		return fmt.Errorf("wire: creating gateway: %w", err)
	}

	promReg := prometheus.NewRegistry()
	gw.UseMetrics(gateway.NewMetrics(promReg))

	host := cfg.Gateway.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Gateway.Port
	if port == 0 {
		port = 8793
	}

	gw.AddTransport(wsocket.New(wsocket.Config{
		Addr:   fmt.Sprintf("%s:%d", host, port),
		Logger: logger,
	}))

	if cfg.Gateway.HTTPPort > 0 {
		gw.AddTransport(sse.New(sse.Config{
			Addr:       fmt.Sprintf("%s:%d", host, cfg.Gateway.HTTPPort),
			PathPrefix: cfg.Gateway.HTTPPathPrefix,
			CorsOrigin: cfg.Gateway.HTTPCorsOrigin,
			Token:      cfg.Gateway.Auth.Token,
			MetricsHandler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{
				Registry: promReg,
			}),
			Logger: logger,
		}))
	}

	if cfg.Gateway.SocketIOPort > 0 {
		gw.AddTransport(socketio.New(socketio.Config{
			Addr:   fmt.Sprintf("%s:%d", host, cfg.Gateway.SocketIOPort),
			Logger: logger,
		}))
	}

	if cfg.Gateway.UnixSocket != "" {
		gw.AddTransport(unixsock.New(unixsock.Config{
			Path:   cfg.Gateway.UnixSocket,
			Logger: logger,
		}))
	}

	runtime.AppendModule("gateway", &gatewayModule{gw: gw, registry: registry})

	if !cfg.Sweeper.Disabled {
		sweeper := app.NewSweeper(registry, app.SweeperConfig{
			Schedule:  cfg.Sweeper.Schedule,
			IdleAfter: cfg.Sweeper.IdleAfter,
			Logger:    logger,
		})
		runtime.AppendModule("sweeper", &sweeperModule{sweeper: sweeper})
	}

	// Expose the registry for custom modules to reach sessions.
	appCtx.RegisterService("app.registry", registry)

	logger.Info("wire: gateway assembled", "apps", len(names))
	return nil
}

// buildApp turns one configured app into a registry entry. The adapter
// module must have registered itself as a service under its module ID.
func buildApp(appCtx *core.AppContext, name string, ac config.AppConfig, logger *slog.Logger) (*app.App, error) {
	svc, ok := appCtx.Service(ac.Adapter)
	if !ok {
		return nil, fmt.Errorf("wire: app %q: adapter module %q registered no service", name, ac.Adapter)
	}
	ad, ok := svc.(adapter.Adapter)
	if !ok {
		return nil, fmt.Errorf("wire: app %q: service %q has type %T, want adapter.Adapter", name, ac.Adapter, svc)
	}

	renderer := &render.Passthrough{
		SystemPrompt: ac.SystemPrompt,
	}
	if ac.Model != "" || ac.MaxTokens > 0 {
		renderer.Options = &message.ModelOptions{
			Model:     ac.Model,
			MaxTokens: ac.MaxTokens,
		}
	}

	a := &app.App{
		Name:        name,
		Description: ac.Description,
		NewConfig: func(sessionID string) (session.Config, error) {
			return session.Config{
				Adapter:            ad,
				Renderer:           renderer,
				MaxTicks:           ac.MaxTicks,
				MaxToolConcurrency: ac.MaxToolConcurrency,
				EventRetain:        ac.EventRetain,
				Logger:             logger.With("session", sessionID),
			}, nil
		},
	}

	if ac.Pipeline != nil {
		attachPipeline(a, ac.Pipeline, logger)
	}
	return a, nil
}

// attachPipeline hooks a per-session outbound connector into the app's
// session lifecycle: completed assistant output is filtered, batched,
// and posted to the configured webhook.
func attachPipeline(a *app.App, pc *config.PipelineConfig, logger *slog.Logger) {
	var mu sync.Mutex
	connectors := make(map[*session.Session]*pipeline.Connector)

	a.OnSessionCreate = func(s *session.Session) {
		key := app.SessionKey{App: a.Name, ID: s.ID()}
		delivery := pipeline.NewDelivery(pipeline.DeliveryConfig{Logger: logger},
			pipeline.NewWebhookListener(pipeline.WebhookConfig{
				URL:        pc.Webhook.URL,
				SessionKey: key.String(),
				Secret:     pc.Webhook.Secret,
			}))

		c := pipeline.NewConnector(pipeline.ConnectorConfig{
			Policy:   pipeline.Policy{Mode: pipeline.PolicyMode(pc.Policy)},
			Mode:     pipeline.DeliveryMode(pc.Mode),
			Debounce: pc.Debounce,
			Delivery: delivery,
			Logger:   logger,
		})
		c.Attach(s)

		mu.Lock()
		connectors[s] = c
		mu.Unlock()
	}

	a.OnSessionClose = func(s *session.Session) {
		mu.Lock()
		c := connectors[s]
		delete(connectors, s)
		mu.Unlock()
		if c != nil {
			c.Detach()
		}
	}
}
