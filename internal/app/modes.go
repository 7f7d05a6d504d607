package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/encorelabs/arbiterd/internal/arbiter"
	"github.com/encorelabs/arbiterd/internal/crypto"
	"github.com/encorelabs/arbiterd/internal/decision"
	openaiscorer "github.com/encorelabs/arbiterd/internal/decision/openai"
	"github.com/encorelabs/arbiterd/internal/gateway"
	"github.com/encorelabs/arbiterd/internal/ledger"
	"github.com/encorelabs/arbiterd/internal/server"
	"github.com/encorelabs/arbiterd/internal/server/handler"
	"github.com/encorelabs/arbiterd/internal/server/ws"
	"github.com/encorelabs/arbiterd/internal/service"
	"github.com/encorelabs/arbiterd/internal/settlement"
	"github.com/encorelabs/arbiterd/internal/token"
)

const (
	// apiRateLimit bounds per-client API requests per apiRateWindow.
	apiRateLimit  = 120
	apiRateWindow = time.Minute

	// archiveInterval and archiveRetention control cold-record archival.
	archiveInterval  = 24 * time.Hour
	archiveRetention = 30 * 24 * time.Hour
)

// core bundles the arbitration engine objects shared by all modes.
type core struct {
	machine  *arbiter.StateMachine
	evidence *ledger.Ledger
	gateway  *gateway.Gateway
	svc      *service.DisputeService
}

// buildCore constructs the arbitration core: token ledger, settlement
// executor, state machine, evidence ledger, decision engine, gateway, and
// the dispute service around them.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	// Authority signer. Serve mode may run without signing credentials; the
	// gateway then has no authorized caller and decisions are submitted
	// externally.
	var signer *crypto.AuthoritySigner
	if a.cfg.Authority.PrivateKey != "" || a.cfg.Authority.EncryptedKeyPath != "" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Authority.PrivateKey,
			EncryptedKeyPath: a.cfg.Authority.EncryptedKeyPath,
			KeyPassword:      a.cfg.Authority.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("build core: load authority key: %w", err)
		}
		signer, err = crypto.NewAuthoritySigner(key, a.cfg.Authority.ChainID)
		if err != nil {
			return nil, fmt.Errorf("build core: authority signer: %w", err)
		}
		a.logger.InfoContext(ctx, "authority signer ready",
			slog.String("address", signer.Address().Hex()),
		)
	}

	authority := crypto.NewKeyAuthority()
	if signer != nil {
		authority.Grant(signer.Address())
	}

	// Token ledger and settlement executor.
	bank := token.NewBank(a.cfg.Arbitration.EscrowAddress())
	registry := token.NewRegistry()
	executor := settlement.NewExecutor(bank, registry, a.cfg.Arbitration.TreasuryAddress(), a.logger)

	machine := arbiter.New(deps.DisputeStore, executor, authority, arbiter.Config{
		EvidencePeriod: a.cfg.Arbitration.EvidenceWindow(),
		AppealPeriod:   a.cfg.Arbitration.AppealWindow(),
	}, a.logger)

	// Evidence ledger with optional write-through and payload archive.
	ledgerOpts := []ledger.Option{}
	if deps.EvidenceStore != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithStore(deps.EvidenceStore))
	}
	if deps.BlobWriter != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithArchive(deps.BlobWriter))
	}
	evidence := ledger.New(a.logger, ledgerOpts...)

	// Decision engine, with the OpenAI scorer when credentials are present.
	var scorer decision.Scorer
	if a.cfg.OpenAI.APIKey != "" {
		scorer = openaiscorer.New(a.cfg.OpenAI.APIKey, a.cfg.OpenAI.Model)
	} else {
		a.logger.InfoContext(ctx, "openai api key not set, feedback scoring uses neutral fallback")
	}
	engine := decision.NewEngine(scorer, decision.Config{
		ScoreTimeout: a.cfg.Decision.ScoreTimeout.Duration,
		UnitPenalty:  a.cfg.Decision.UnitPenaltyAmount(),
	}, a.logger)

	gw := gateway.New(machine, engine, evidence, nil, authority, signer, deps.LockManager, a.logger)

	svc := service.NewDisputeService(
		machine, evidence,
		deps.DisputeStore, deps.SettlementStore,
		deps.DisputeCache, deps.SignalBus, deps.AuditStore,
		deps.Notifier, a.logger,
	)

	return &core{
		machine:  machine,
		evidence: evidence,
		gateway:  gw,
		svc:      svc,
	}, nil
}

// ServeMode runs the HTTP API only. Decisions are submitted by an external
// arbiter instance.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, c)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// ArbiterMode runs the gateway worker only: it consumes evidence-completion
// events from the bus and issues decisions. No HTTP API is exposed.
func (a *App) ArbiterMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting arbiter mode")

	if deps.SignalBus == nil {
		return fmt.Errorf("arbiter mode: redis must be enabled (the worker consumes bus events)")
	}

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("arbiter mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	worker := gateway.NewWorker(c.gateway, deps.SignalBus, a.logger)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	return g.Wait()
}

// FullMode runs the HTTP API and the gateway worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if deps.SignalBus != nil {
		worker := gateway.NewWorker(c.gateway, deps.SignalBus, a.logger)
		g.Go(func() error {
			return worker.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "full mode: redis disabled, gateway worker not started; use POST execute/decision endpoints directly")
	}

	a.startHTTPServer(ctx, g, deps, c)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// startHTTPServer adds the HTTP server goroutine (and its WebSocket hub when
// the signal bus is available) to the given errgroup. The server is shut down
// gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}

	startedAt := time.Now().UTC()

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: startedAt,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		RateLimiter:     deps.RateLimiter,
		RateLimit:       apiRateLimit,
		RateLimitWindow: apiRateWindow,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, startedAt, c.svc.Paused),
		Disputes: handler.NewDisputeHandler(c.svc, c.gateway, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver runs the cold-record archival loop when an archiver is wired
// (S3 plus Postgres). Executed settlements and audit entries older than the
// retention window are moved to object storage once per interval.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	g.Go(func() error {
		ticker := time.NewTicker(archiveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-archiveRetention)
				if n, err := deps.Archiver.ArchiveSettlements(ctx, cutoff); err != nil {
					a.logger.WarnContext(ctx, "archiver: settlements failed", slog.String("error", err.Error()))
				} else if n > 0 {
					a.logger.InfoContext(ctx, "archiver: settlements archived", slog.Int64("count", n))
				}
				if n, err := deps.Archiver.ArchiveAuditLog(ctx, cutoff); err != nil {
					a.logger.WarnContext(ctx, "archiver: audit log failed", slog.String("error", err.Error()))
				} else if n > 0 {
					a.logger.InfoContext(ctx, "archiver: audit entries archived", slog.Int64("count", n))
				}
			}
		}
	})
}
