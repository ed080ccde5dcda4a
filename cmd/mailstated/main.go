// Command mailstated runs the mailbox state engine's background machinery
// and offers a handful of operator tools for diagnosing it, the way the
// teacher's mailserver binary bundles its server and its domain/user
// management subcommands behind one cobra root.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fenilsonani/mailstate/internal/changebus"
	"github.com/fenilsonani/mailstate/internal/config"
	"github.com/fenilsonani/mailstate/internal/doctor"
	"github.com/fenilsonani/mailstate/internal/logging"
	"github.com/fenilsonani/mailstate/internal/mailboxstate"
	"github.com/fenilsonani/mailstate/internal/metrics"
	"github.com/fenilsonani/mailstate/internal/reconciler"
	"github.com/fenilsonani/mailstate/internal/store"
	"github.com/fenilsonani/mailstate/internal/store/sqlite"
	"github.com/fenilsonani/mailstate/internal/uidmap"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailstated",
	Short: "Mailbox state engine: UID projection, reconciliation, and IDLE change delivery",
	Long: `mailstated owns the durable per-mailbox UID projection, reconciles
it against a JMAP-style document store, and serves IDLE change
notifications over a change bus. It does not speak IMAP on the wire —
that is an external collaborator's job.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func openStore(cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), func() error { return nil }, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.Migrate(migrateCtx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate sqlite store: %w", err)
		}
		return sqlite.New(db, resilienceDefaults()), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

func openBus(cfg *config.Config) (changebus.Bus, error) {
	switch cfg.Bus.Driver {
	case "memory":
		return changebus.NewMemory(), nil
	case "redis":
		return changebus.NewRedis(changebus.RedisConfig{
			RedisURL: cfg.Bus.RedisURL,
			Prefix:   cfg.Bus.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown bus driver: %s", cfg.Bus.Driver)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine's background machinery: reconciliation on demand and the metrics endpoint",
	Long: `serve keeps the store and change bus connections open and exposes the
Prometheus metrics endpoint. Reconciliation itself is driven per-session by
the IMAP-facing collaborator that embeds this module (spec.md §1's SELECT and
IDLE entry points) — this command's job is to hold the long-lived resources
those calls need and to shut them down cleanly on signal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger, err := logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Info("mailstated starting", "store", cfg.Store.Driver, "bus", cfg.Bus.Driver)

		_, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		logger.Store().Info("store opened")

		bus, err := openBus(cfg)
		if err != nil {
			closeStore()
			return err
		}
		logger.Info("change bus opened", "driver", cfg.Bus.Driver)

		var metricsSrv *metricsServer
		if cfg.Metrics.Enabled {
			metricsSrv, err = startMetricsServer(cfg.Metrics.Listen)
			if err != nil {
				logger.WithError(err).Error("failed to start metrics endpoint")
			} else {
				logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen)
			}
		}

		fmt.Printf("mailstated running (store=%s bus=%s)\n", cfg.Store.Driver, cfg.Bus.Driver)
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())

		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("metrics endpoint shutdown error")
			}
		}
		if err := bus.Close(); err != nil {
			logger.WithError(err).Warn("bus close error")
		}
		if err := closeStore(); err != nil {
			logger.WithError(err).Warn("store close error")
		}
		logger.Info("mailstated stopped")
		return nil
	},
}

var (
	reconcileAccountID uint32
	reconcileMailboxID uint32
	reconcileAllMail   bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Force reconciliation of one mailbox against the store",
	Long: `reconcile is the operator escape hatch of spec.md §7: when a mailbox is
flagged un-openable pending operator intervention (a persisted UidMap that
fails Validate, or a CAS retry budget repeatedly exhausted), an operator
runs this to force a fresh reconciliation pass and persist its result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.Default().WithFields("operation_id", uuid.NewString())

		st, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		mailbox := mailboxstate.MailboxID{AccountID: reconcileAccountID}
		if !reconcileAllMail {
			id := reconcileMailboxID
			mailbox.ID = &id
		}

		rec := reconciler.New(st, nil)
		start := time.Now()
		state, err := rec.Reconcile(context.Background(), mailbox)
		elapsed := time.Since(start).Seconds()
		if err != nil {
			metrics.RecordReconciliation("failure", elapsed)
			logger.Reconciler().WithError(err).Error("forced reconciliation failed",
				"account_id", reconcileAccountID, "mailbox_id", mailbox.DocumentID())
			return fmt.Errorf("reconcile failed: %w", err)
		}
		metrics.RecordReconciliation("reconciled", elapsed)
		logger.Reconciler().Info("forced reconciliation complete",
			"account_id", reconcileAccountID, "mailbox_id", mailbox.DocumentID())

		fmt.Printf("mailbox reconciled (account=%d mailbox=%d)\n", reconcileAccountID, mailbox.DocumentID())
		fmt.Printf("  uidnext=%d uidvalidity=%d messages=%d modseq=%d\n",
			state.UIDNext, state.UIDValidity, state.TotalMessages, state.Modseq)
		return nil
	},
}

var inspectUidmapCmd = &cobra.Command{
	Use:   "inspect-uidmap",
	Short: "Decode and print a mailbox's persisted UidMap blob",
	Long: `inspect-uidmap loads the raw UidMap bytes stored under
(collection=Mailbox, property=EmailIds) for one (account, mailbox) and
decodes them with internal/uidmap's codec, for diagnosing a mailbox that
Validate is rejecting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		documentID := reconcileMailboxID
		if reconcileAllMail {
			documentID = mailboxstate.AllMailID
		}

		raw, err := st.GetProperty(context.Background(), reconcileAccountID, store.CollectionMailbox, documentID, store.PropertyEmailIds)
		if err != nil {
			return fmt.Errorf("read UidMap property: %w", err)
		}
		if raw == nil {
			fmt.Printf("no UidMap persisted for account=%d mailbox=%d\n", reconcileAccountID, documentID)
			return nil
		}

		m, err := uidmap.Deserialize(raw)
		if err != nil {
			fmt.Printf("decode FAILED (%d bytes): %v\n", len(raw), err)
			return err
		}
		if err := m.Validate(); err != nil {
			fmt.Printf("decoded but INVALID: %v\n", err)
		}

		fmt.Printf("account=%d mailbox=%d\n", reconcileAccountID, documentID)
		fmt.Printf("  uidnext=%d uidvalidity=%d hash=%016x items=%d\n", m.UIDNext, m.UIDValidity, m.Hash, len(m.Items))
		for _, it := range m.Items {
			fmt.Printf("    uid=%-8d message_id=%-10d received_at=%d\n", it.UID, it.MessageID, it.ReceivedAt)
		}
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check connectivity to the configured store and change bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		results := doctor.Run(context.Background(), cfg)
		results.Print()
		if !results.Healthy {
			os.Exit(1)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("mailstated v0.1.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")

	reconcileCmd.Flags().Uint32Var(&reconcileAccountID, "account", 0, "account id")
	reconcileCmd.Flags().Uint32Var(&reconcileMailboxID, "mailbox", 0, "mailbox document id")
	reconcileCmd.Flags().BoolVar(&reconcileAllMail, "all-mail", false, "target the synthetic all-mail projection instead of --mailbox")
	reconcileCmd.MarkFlagRequired("account")

	inspectUidmapCmd.Flags().Uint32Var(&reconcileAccountID, "account", 0, "account id")
	inspectUidmapCmd.Flags().Uint32Var(&reconcileMailboxID, "mailbox", 0, "mailbox document id")
	inspectUidmapCmd.Flags().BoolVar(&reconcileAllMail, "all-mail", false, "target the synthetic all-mail projection instead of --mailbox")
	inspectUidmapCmd.MarkFlagRequired("account")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(inspectUidmapCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}
