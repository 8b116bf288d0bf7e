// Package app wires the bridge daemon: bus, account lookups, emergency
// policy, and the request consumer loop that spawns one orchestrator per
// bridge attempt.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/callbridge/internal/bridge/accounts"
	"github.com/sebas/callbridge/internal/bridge/bus"
	"github.com/sebas/callbridge/internal/bridge/call"
	"github.com/sebas/callbridge/internal/bridge/command"
	"github.com/sebas/callbridge/internal/bridge/config"
	"github.com/sebas/callbridge/internal/bridge/emergency"
	"github.com/sebas/callbridge/internal/bridge/notify"
	"github.com/sebas/callbridge/internal/bridge/orchestrator"
)

// Daemon holds the wired components and the set of running attempts.
type Daemon struct {
	cfg *config.Config
	log *slog.Logger

	bus      bus.Bus
	provider accounts.Provider
	cached   *accounts.Cached
	redis    *accounts.Redis

	deps orchestrator.Deps

	wg sync.WaitGroup
}

// New builds the daemon from configuration.
func New(cfg *config.Config) (*Daemon, error) {
	log := slog.Default().With("node", cfg.Node)

	var b bus.Bus
	if cfg.BusURL != "" {
		natsCfg := bus.DefaultNATSConfig()
		natsCfg.URL = cfg.BusURL
		natsCfg.Name = cfg.Node
		nb, err := bus.NewNATS(natsCfg)
		if err != nil {
			return nil, fmt.Errorf("create bus: %w", err)
		}
		b = nb
	} else {
		log.Warn("no bus URL configured, running in-memory loopback bus")
		b = bus.NewMemory(0)
	}

	d := &Daemon{cfg: cfg, log: log, bus: b}

	var provider accounts.Provider
	if cfg.RedisAddr != "" {
		r, err := accounts.NewRedis(accounts.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("create account provider: %w", err)
		}
		d.redis = r
		provider = r
	} else {
		log.Warn("no redis configured, account lookups run in-memory")
		provider = accounts.NewMemory()
	}
	d.cached = accounts.NewCached(provider, cfg.AccountCacheTTL)
	d.provider = d.cached

	notifier := notify.NewBusNotifier(b, log)
	resolver := emergency.NewResolver(emergency.Config{
		EnsureValidCID:   cfg.EnsureValidEmergencyCID,
		DenyInvalidCID:   cfg.DenyInvalidEmergencyCID,
		DefaultCIDNumber: cfg.DefaultEmergencyCID,
		DenyCode:         cfg.DenyEmergencyCode,
		DenyCause:        cfg.DenyEmergencyCause,
		DenyMedia:        cfg.DenyEmergencyMedia,
	}, d.provider, notifier, nil, log)

	d.deps = orchestrator.Deps{
		Bus:      b,
		Resolver: resolver,
		Builder:  command.NewBuilder(command.Config{FormatFromURI: cfg.FormatFromURI}),
		Accounts: d.provider,
		Log:      log,
	}
	return d, nil
}

// Run consumes bridge requests until ctx is canceled, then waits for
// in-flight attempts to finish.
func (d *Daemon) Run(ctx context.Context) error {
	requests, cancel, err := d.bus.Subscribe(bus.SubjectBridgeRequests)
	if err != nil {
		return fmt.Errorf("subscribe to bridge requests: %w", err)
	}
	defer cancel()

	d.log.Info("consuming bridge requests", "subject", bus.SubjectBridgeRequests)

	for {
		select {
		case msg, ok := <-requests:
			if !ok {
				return nil
			}
			d.handleRequest(ctx, msg.Payload)
		case <-ctx.Done():
			d.log.Info("shutting down, waiting for in-flight bridges")
			d.waitWithTimeout(5 * time.Second)
			return nil
		}
	}
}

func (d *Daemon) handleRequest(ctx context.Context, payload []byte) {
	var req call.BridgeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		d.log.Warn("undecodable bridge request dropped", "error", err)
		return
	}

	orch, err := orchestrator.New(&req, d.deps)
	if err != nil {
		// Typically a missing control queue: nothing to control, no
		// result to publish.
		d.log.Warn("bridge request rejected",
			"call_id", req.CallID,
			"error", err,
		)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		orch.Run(ctx)
	}()
}

func (d *Daemon) waitWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		d.log.Warn("shutdown timeout, abandoning in-flight bridges")
	}
}

// Close releases transports and caches.
func (d *Daemon) Close() {
	if d.cached != nil {
		d.cached.Stop()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.log.Debug("redis close", "error", err)
		}
	}
	if err := d.bus.Close(); err != nil {
		d.log.Debug("bus close", "error", err)
	}
}
