package app

import (
	"context"
	"fmt"

	"github.com/Meridian-Network/rewards_core/internal/app/config"
	"github.com/Meridian-Network/rewards_core/internal/app/notify"
	commissionsvc "github.com/Meridian-Network/rewards_core/internal/app/services/commission"
	dividendsvc "github.com/Meridian-Network/rewards_core/internal/app/services/dividend"
	ledgersvc "github.com/Meridian-Network/rewards_core/internal/app/services/ledger"
	membershipsvc "github.com/Meridian-Network/rewards_core/internal/app/services/membership"
	referralsvc "github.com/Meridian-Network/rewards_core/internal/app/services/referral"
	"github.com/Meridian-Network/rewards_core/internal/app/storage"
	"github.com/Meridian-Network/rewards_core/internal/app/storage/memory"
	"github.com/Meridian-Network/rewards_core/internal/app/system"
	"github.com/Meridian-Network/rewards_core/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts  storage.AccountStore
	Ledger    storage.LedgerStore
	Referrals storage.ReferralStore
	Dividends storage.DividendStore
}

// Options tunes optional application dependencies.
type Options struct {
	Config config.Provider
	Hooks  notify.Hooks
	// Scheduler enables the cron-driven dividend distribution runner.
	Scheduler bool
}

// Application ties the reward engines together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Ledger     *ledgersvc.Service
	Referrals  *referralsvc.Service
	Commission *commissionsvc.Service
	Membership *membershipsvc.Service
	Dividends  *dividendsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = notify.Nop{}
	}

	mem := memory.New()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Referrals == nil {
		stores.Referrals = mem
	}
	if stores.Dividends == nil {
		stores.Dividends = mem
	}

	manager := system.NewManager(log)

	ledgerService := ledgersvc.New(stores.Accounts, stores.Ledger, cfg, log)
	referralService := referralsvc.New(stores.Accounts, stores.Referrals, log)
	commissionService := commissionsvc.New(stores.Accounts, referralService, ledgerService, cfg, hooks, log)
	membershipService := membershipsvc.New(stores.Accounts, referralService, cfg, hooks, log)
	dividendService := dividendsvc.New(stores.Accounts, stores.Dividends, ledgerService, cfg, log)

	// Only services with a real lifecycle register with the manager; the
	// request-scoped engines need no start/stop.
	if opts.Scheduler {
		runner := dividendsvc.NewScheduler(dividendService, cfg, log)
		if err := manager.Register(runner); err != nil {
			return nil, fmt.Errorf("register %s: %w", runner.Name(), err)
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		Ledger:     ledgerService,
		Referrals:  referralService,
		Commission: commissionService,
		Membership: membershipService,
		Dividends:  dividendService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
