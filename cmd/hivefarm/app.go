package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/solazh/hivefarm/internal/config"
	"github.com/solazh/hivefarm/internal/devices"
	"github.com/solazh/hivefarm/internal/domain"
	"github.com/solazh/hivefarm/internal/engine"
	"github.com/solazh/hivefarm/internal/engine/distrib"
	"github.com/solazh/hivefarm/internal/farmapi"
	"github.com/solazh/hivefarm/internal/input"
	"github.com/solazh/hivefarm/internal/mailcheck"
	"github.com/solazh/hivefarm/internal/platform/postgres"
	"github.com/solazh/hivefarm/internal/proxy"
	"github.com/solazh/hivefarm/internal/retry"
	"github.com/solazh/hivefarm/internal/store"
)

// application holds the wired dependencies shared by every operation.
type application struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB

	accounts store.AccountStore
	devices  store.DeviceStore
	clients  farmapi.Factory
	verifier mailcheck.Verifier
	resolver *mailcheck.HostResolver
}

// newApplication connects to the database, applies migrations, and wires the
// long-lived collaborators.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := postgres.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if err := postgres.Migrate(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &application{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		accounts: postgres.NewPostgresAccountStore(db),
		devices:  postgres.NewPostgresDeviceStore(db),
		clients: farmapi.NewFactory(farmapi.HTTPOptions{
			BaseURL: cfg.API.BaseURL,
			Timeout: cfg.API.Timeout(),
		}),
		verifier: mailcheck.NewIMAPVerifier(logger),
		resolver: mailcheck.NewHostResolver(cfg.IMAP.Servers),
	}, nil
}

func (a *application) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

// runMenu drives the interactive loop until the user exits or the context is
// cancelled.
func (a *application) runMenu(ctx context.Context) error {
	reader := bufio.NewReader(os.Stdin)

	for {
		if ctx.Err() != nil {
			return nil
		}

		fmt.Println()
		fmt.Println("hivefarm")
		fmt.Println("  1) Register accounts")
		fmt.Println("  2) Farm points")
		fmt.Println("  3) Exit")
		fmt.Print("> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}

		switch strings.TrimSpace(line) {
		case "1":
			if err := a.runRegistration(ctx); err != nil {
				a.logger.Error("registration run failed", "error", err)
			}
		case "2":
			if err := a.runFarming(ctx); err != nil {
				a.logger.Error("farming run failed", "error", err)
			}
		case "3", "q", "exit":
			return nil
		default:
			fmt.Println("unknown choice")
		}
	}
}

// runRegistration registers every account in the input file through the
// worker pool and reports a summary.
func (a *application) runRegistration(ctx context.Context) error {
	accounts, err := input.LoadRegistrationAccounts(a.cfg.Files.RegistrationAccounts)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		a.logger.Info("no accounts to register")
		return nil
	}

	pool, err := a.loadProxyPool()
	if err != nil {
		return err
	}

	registrar := engine.NewRegistrar(
		engine.RegistrarConfig{
			Policy: retry.Policy{
				MaxAttempts:     a.cfg.Retry.MaxRegistrationAttempts,
				Delay:           a.cfg.Retry.Delay(),
				RotationEnabled: a.cfg.Retry.ProxyRotation,
			},
			StartDelayMin:       time.Duration(a.cfg.StartDelay.Min) * time.Second,
			StartDelayMax:       time.Duration(a.cfg.StartDelay.Max) * time.Second,
			VerificationTimeout: a.cfg.IMAP.Timeout(),
			UseProxyForIMAP:     a.cfg.IMAP.UseProxyForIMAP,
		},
		a.accounts,
		a.clients,
		a.verifier,
		a.resolver,
		engine.NewReferralCodeSource(a.cfg.Referral, a.accounts),
		pool,
		a.logger,
	)

	workers := engine.NewWorkerPool(engine.WorkerPoolConfig{WorkerCount: a.cfg.Threads.Registration}, a.logger)
	summary := workers.Run(ctx, accounts, registrar.Register)
	summary.Log(a.logger, "registration")
	return nil
}

// runFarming selects the farming accounts and either farms them in-process or
// hands them to the multiprocess distributor.
func (a *application) runFarming(ctx context.Context) error {
	emails, err := input.LoadFarmingEmails(a.cfg.Files.FarmingAccounts)
	if err != nil {
		return err
	}

	selected, err := engine.SelectFarmingAccounts(ctx, a.accounts, emails, a.logger)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		a.logger.Info("no logged-in accounts to farm")
		return nil
	}

	if a.cfg.Multiprocess.Enabled {
		proxies, err := input.LoadProxyLines(a.cfg.Files.Proxies)
		if err != nil {
			return err
		}
		selectedEmails := make([]string, len(selected))
		for i, account := range selected {
			selectedEmails[i] = account.Email
		}
		distributor := distrib.NewDistributor(distrib.Options{
			MaxProcesses: a.cfg.Multiprocess.MaxProcesses,
		}, a.logger)
		return distributor.Run(ctx, selectedEmails, proxies)
	}

	pool, err := a.loadProxyPool()
	if err != nil {
		return err
	}
	return a.farmAccounts(ctx, selected, pool)
}

// runFarmWorker farms one partition handed over by the parent process.
func (a *application) runFarmWorker(ctx context.Context, manifestPath string) error {
	manifest, err := distrib.ReadManifest(manifestPath)
	if err != nil {
		return err
	}
	logger := a.logger.With("partition", manifest.Index)
	logger.Info("farm worker starting", "accounts", len(manifest.Emails))

	selected, err := engine.SelectFarmingAccounts(ctx, a.accounts, manifest.Emails, logger)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		logger.Info("partition has no farmable accounts")
		return nil
	}

	pool, err := proxy.NewPool(manifest.Proxies, a.proxyOptions())
	if err != nil {
		return err
	}
	return a.farmAccounts(ctx, selected, pool)
}

// farmAccounts runs the farming task for the accounts through the worker
// pool, blocking until cancellation drains it.
func (a *application) farmAccounts(ctx context.Context, accounts []*domain.Account, pool *proxy.Pool) error {
	farmer := engine.NewFarmer(
		engine.FarmerConfig{
			Policy: retry.Policy{
				MaxAttempts:     a.cfg.Retry.MaxFarmAttempts,
				Delay:           a.cfg.Retry.Delay(),
				RotationEnabled: a.cfg.Retry.ProxyRotation,
			},
			DevicesMin:    a.cfg.Devices.ActivePerAccount.Min,
			DevicesMax:    a.cfg.Devices.ActivePerAccount.Max,
			StartDelayMin: time.Duration(a.cfg.StartDelay.Min) * time.Second,
			StartDelayMax: time.Duration(a.cfg.StartDelay.Max) * time.Second,
		},
		a.accounts,
		a.devices,
		store.NewTxRunner(a.db),
		devices.NewFactory(),
		a.clients,
		pool,
		engine.NewDeviceScheduler(
			a.cfg.Farm.MaxDevicesPerBatch,
			a.cfg.Farm.MaxConcurrentTasks,
			a.cfg.Farm.Timeout(),
			a.logger,
		),
		a.logger,
	)

	workers := engine.NewWorkerPool(engine.WorkerPoolConfig{WorkerCount: a.cfg.Threads.Farming}, a.logger)
	summary := workers.Run(ctx, accounts, farmer.Farm)
	summary.Log(a.logger, "farming")
	return nil
}

func (a *application) loadProxyPool() (*proxy.Pool, error) {
	lines, err := input.LoadProxyLines(a.cfg.Files.Proxies)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		a.logger.Warn("no proxies configured, connecting directly")
	}
	return proxy.NewPool(lines, a.proxyOptions())
}

func (a *application) proxyOptions() proxy.Options {
	return proxy.Options{
		FailureThreshold:        a.cfg.Proxy.FailureThreshold,
		ResetOnSweep:            a.cfg.Proxy.ResetCountersOnSweep,
		AllowReuseWhenExhausted: a.cfg.Proxy.AllowReuseWhenExhausted,
	}
}
