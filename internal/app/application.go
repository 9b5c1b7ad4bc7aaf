// Package app wires the lottery engine, its randomness beacon, and the
// settlement scheduler into one lifecycle-managed unit.
package app

import (
	"context"
	"fmt"

	"github.com/R3E-Network/lottery_engine/internal/app/chain"
	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/services/engine"
	"github.com/R3E-Network/lottery_engine/internal/app/services/randsource"
	"github.com/R3E-Network/lottery_engine/internal/app/services/scheduler"
	"github.com/R3E-Network/lottery_engine/internal/app/storage"
	"github.com/R3E-Network/lottery_engine/internal/app/storage/memory"
	"github.com/R3E-Network/lottery_engine/internal/app/system"
	"github.com/R3E-Network/lottery_engine/pkg/logger"
)

// Stores encapsulates journaling persistence. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Entries     storage.EntryStore
	Settlements storage.SettlementStore
	Players     storage.PlayerStore
}

// Options configures the application wiring.
type Options struct {
	Params    engine.Params
	Schedules map[lottery.TierKind]string

	// BeaconSecret signs and verifies draw proofs when no external
	// beacon is attached.
	BeaconSecret []byte

	// Token overrides the in-memory bank, e.g. with a chain-backed
	// ledger.
	Token chain.TokenLedger
	// Beacon overrides the local beacon with a remote randomness
	// source; fulfilments then arrive through the draw callback API.
	Beacon randsource.Beacon
	// Verifier overrides proof verification. Required when Beacon is
	// set and the remote source does not sign with BeaconSecret.
	Verifier randsource.Verifier
}

// Application ties the engine and its collaborators together and
// manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Engine *engine.Service
	Token  chain.TokenLedger
}

// drawSink adapts the engine's settlement-returning callback to the
// beacon's error-only fulfilment interface.
type drawSink struct {
	engine *engine.Service
}

func (s drawSink) OnDrawReceived(ctx context.Context, token string, value int64, proof []byte) error {
	_, err := s.engine.OnDrawReceived(ctx, token, value, proof)
	return err
}

// New builds a fully initialised application.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Entries == nil {
		stores.Entries = mem
	}
	if stores.Settlements == nil {
		stores.Settlements = mem
	}
	if stores.Players == nil {
		stores.Players = mem
	}

	token := opts.Token
	if token == nil {
		token = chain.NewBank(opts.Params.Vault)
	}

	manager := system.NewManager()

	var local *randsource.LocalBeacon
	beacon := opts.Beacon
	if beacon == nil {
		local = randsource.NewLocalBeacon(opts.BeaconSecret, log.Named("randsource"))
		beacon = local
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = randsource.NewHMACVerifier(opts.BeaconSecret)
	}

	svc, err := engine.New(opts.Params, token, beacon, verifier, engine.Stores{
		Entries:     stores.Entries,
		Settlements: stores.Settlements,
		Players:     stores.Players,
	}, log.Named("engine"))
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	if local != nil {
		local.AttachSink(drawSink{engine: svc})
		if err := manager.Register(local); err != nil {
			return nil, fmt.Errorf("register beacon: %w", err)
		}
	}

	if len(opts.Schedules) > 0 {
		withReset := opts.Params.DrawTimeout > 0
		runner, err := scheduler.New(svc, opts.Schedules, withReset, log.Named("scheduler"))
		if err != nil {
			return nil, fmt.Errorf("build scheduler: %w", err)
		}
		if err := manager.Register(runner); err != nil {
			return nil, fmt.Errorf("register scheduler: %w", err)
		}
	} else {
		log.Warn("no tier schedules configured; settlement is manual")
	}

	return &Application{
		manager: manager,
		log:     log,
		Engine:  svc,
		Token:   token,
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
