package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/georgeshao/o2c-triage/internal/config"
	"github.com/georgeshao/o2c-triage/internal/dispatcher"
	"github.com/georgeshao/o2c-triage/internal/export"
	"github.com/georgeshao/o2c-triage/internal/inbox"
	"github.com/georgeshao/o2c-triage/internal/inference"
	"github.com/georgeshao/o2c-triage/internal/logging"
	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/internal/storage/driver"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

var (
	cfgPath    string
	inputPath  string
	exportPath string
	resumeID   string
	isDebug    bool
)

var rootCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a batch of Order-to-Cash emails",
	Long: `classify routes every email in the input file to a work queue using the
inference service, rotating credentials and models on capacity errors.
Each case is stored before the next email is processed; use --resume to
continue a batch that was interrupted.`,
	SilenceUsage: true,
	RunE:         runClassify,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default is config.yaml if present)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&inputPath, "input", "", "input file with an \"emails\" list (overrides config)")
	rootCmd.Flags().StringVar(&exportPath, "export", "", "also write processed_cases.json to this path")
	rootCmd.Flags().StringVar(&resumeID, "resume", "", "resume the batch with this id at its first unprocessed email")

	rootCmd.AddCommand(exportCmd)
}

// setup loads .env and configuration, then installs the logger.
func setup() (*config.Config, *slog.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ResolvePath(cfgPath))
	if err != nil {
		logging.Init(slog.LevelInfo)
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if isDebug {
		level = slog.LevelDebug
	}
	return cfg, logging.Init(level), nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if inputPath != "" {
		cfg.Input = inputPath
	}
	if exportPath != "" {
		cfg.Export = exportPath
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emails, err := inbox.Load(cfg.Input)
	if err != nil {
		return err
	}
	log.Info("Loaded emails", "count", len(emails), "input", cfg.Input)

	d, err := dispatcher.New(cfg.DispatcherConfig(), inference.NewClient(cfg.InferenceConfig()), log)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	log.Info("Loaded API keys", "count", d.Pool().Len())

	store, err := driver.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	batchID := resumeID
	var done []*storage.CaseRecord
	if batchID != "" {
		done, err = listBatch(ctx, store, batchID)
		if err != nil {
			return err
		}
		log.Info("Resuming batch", "batch_id", batchID, "done", len(done))
	} else {
		batchID = uuid.NewString()
	}

	var appender storage.CaseAppender = store
	if cfg.Export != "" {
		w := export.NewWriter(cfg.Export, store)
		w.Seed(done)
		appender = w
	}

	runner := dispatcher.NewRunner(d, appender, log)
	summary, err := runner.RunFrom(ctx, batchID, emails, len(done))
	if summary != nil {
		printSummary(cmd, summary)
	}
	if errors.Is(err, context.Canceled) {
		log.Warn("Interrupted; rerun with --resume to continue", "batch_id", batchID)
	}
	return err
}

func printSummary(cmd *cobra.Command, s *types.BatchSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Batch %s: processed %d of %d in %s (%d fallbacks)\n",
		s.BatchID, s.Processed, s.Total, s.Duration.Round(time.Second), s.Fallbacks)
	for _, q := range types.Queues {
		fmt.Fprintf(out, "  %-18s %d\n", q, s.Queues[q])
	}
}

// listBatch returns every stored case of batchID in sequence order.
func listBatch(ctx context.Context, store storage.Store, batchID string) ([]*storage.CaseRecord, error) {
	var (
		all   []*storage.CaseRecord
		after *int
	)
	for {
		page, err := store.ListCases(ctx, storage.CaseFilter{BatchID: batchID, AfterSeq: after, Limit: storage.DefaultListLimit})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < storage.DefaultListLimit {
			return all, nil
		}
		last := page[len(page)-1].Seq
		after = &last
	}
}
