/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the clinic scheduling and ledger engine. Wires
  the store, the services, and the HTTP API, and hosts the operational
  subcommands.

COMMANDS:
  serve              Start the HTTP server (graceful shutdown on signal)
  validate-ledgers   Read-only integrity sweep over patient accounts
  recalculate        Mass ledger recompute

GLOBAL FLAGS:
  --config   Path to the TOML config file (optional; defaults apply)
  --db       SQLite database path, overrides the config file
             Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN (serve):
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with a file database
  ./clinicd serve --db=./data/clinic.db

  # Nightly account audit
  ./clinicd validate-ledgers
  ./clinicd validate-ledgers --patient pat-001

  # Rebuild every snapshot after a manual data fix
  ./clinicd recalculate --all

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: TOML configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/praxia/clinic-engine/api"
	"github.com/praxia/clinic-engine/billing"
	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/config"
	"github.com/praxia/clinic-engine/ledger"
	"github.com/praxia/clinic-engine/pricing"
	"github.com/praxia/clinic-engine/schedule"
	"github.com/praxia/clinic-engine/store/sqlite"
)

var (
	flagConfig string
	flagDB     string
)

var rootCmd = &cobra.Command{
	Use:   "clinicd",
	Short: "Clinic scheduling and account-ledger engine",
	Long: `clinicd runs the appointment scheduler and the patient account ledger:
conflict-checked booking, session lifecycles, payments with credit draws,
and a recompute-from-facts ledger with an integrity sweep.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(recalculateCmd)

	validateCmd.Flags().String("patient", "", "sweep a single patient")
	recalculateCmd.Flags().Bool("all", false, "recompute every patient")
	recalculateCmd.Flags().String("patient", "", "recompute a single patient")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

// engine is everything the subcommands run against.
type engine struct {
	cfg     config.Config
	log     zerolog.Logger
	store   *sqlite.Store
	ledger  *ledger.Reconciler
	billing *billing.Processor
	handler *api.Handler
}

func buildEngine() (*engine, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}

	var out = zerolog.New(os.Stderr)
	if cfg.Logging.Pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log := out.Level(cfg.Logging.ZerologLevel()).With().Timestamp().Logger()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	locks := clinic.NewKeyedMutex()
	rec := ledger.New(store, locks, log)
	proc := billing.NewProcessor(store, locks, rec, log)
	prices := &pricing.DirectoryPricing{Store: store}
	elig := &pricing.DirectoryEligibility{Store: store}

	return &engine{
		cfg:     cfg,
		log:     log,
		store:   store,
		ledger:  rec,
		billing: proc,
		handler: &api.Handler{
			Store:      store,
			Scheduler:  schedule.NewScheduler(store, locks, prices, elig, rec, log),
			Lifecycle:  schedule.NewLifecycle(store, locks, rec, proc, log),
			Billing:    proc,
			Ledger:     rec,
			PendingAge: cfg.Billing.PendingAge(),
			Log:        log,
		},
	}, nil
}

// =============================================================================
// SERVE
// =============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.store.Close()

		server := &http.Server{
			Addr:         eng.cfg.Server.Addr(),
			Handler:      api.NewRouter(eng.handler),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			eng.log.Info().Str("addr", server.Addr).Msg("server starting")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case sig := <-quit:
			eng.log.Info().Str("signal", sig.String()).Msg("shutting down")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("forced shutdown: %w", err)
		}
		eng.log.Info().Msg("server stopped")
		return nil
	},
}

// =============================================================================
// VALIDATE-LEDGERS
// =============================================================================

var validateCmd = &cobra.Command{
	Use:   "validate-ledgers",
	Short: "Run the read-only account integrity sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.store.Close()

		ctx := cmd.Context()
		patient, _ := cmd.Flags().GetString("patient")

		var findings []ledger.Discrepancy
		if patient != "" {
			findings, err = eng.ledger.ValidatePatient(ctx, clinic.PatientID(patient))
		} else {
			findings, err = eng.ledger.ValidateAll(ctx)
		}
		if err != nil {
			return err
		}

		if len(findings) == 0 {
			fmt.Println("all accounts consistent")
			return nil
		}
		for _, d := range findings {
			fmt.Println(d.String())
		}
		return fmt.Errorf("%d discrepancies found", len(findings))
	},
}

// =============================================================================
// RECALCULATE
// =============================================================================

var recalculateCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Recompute patient ledger snapshots from facts",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.store.Close()

		ctx := cmd.Context()
		all, _ := cmd.Flags().GetBool("all")
		patient, _ := cmd.Flags().GetString("patient")

		switch {
		case patient != "":
			snap, err := eng.ledger.RecomputeLocked(ctx, clinic.PatientID(patient))
			if err != nil {
				return err
			}
			fmt.Printf("%s: credit %s, debt %s, balance %s\n",
				snap.PatientID, snap.AvailableCredit, snap.Debt, snap.Balance)
			return nil

		case all:
			patients, err := eng.store.ListPatients(ctx)
			if err != nil {
				return err
			}
			for _, p := range patients {
				if _, err := eng.ledger.RecomputeLocked(ctx, p.ID); err != nil {
					return fmt.Errorf("recomputing %s: %w", p.ID, err)
				}
			}
			fmt.Printf("recomputed %d accounts\n", len(patients))
			return nil

		default:
			return fmt.Errorf("one of --all or --patient is required")
		}
	},
}
