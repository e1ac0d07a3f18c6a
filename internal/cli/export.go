package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/georgeshao/o2c-triage/internal/export"
	"github.com/georgeshao/o2c-triage/internal/storage/driver"
)

var (
	exportBatch string
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a stored batch as processed_cases.json",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = cfg.Export
		}
		if out == "" {
			return fmt.Errorf("no export path: pass --out or set export in the config")
		}

		ctx := cmd.Context()
		store, err := driver.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer store.Close()

		batchID := exportBatch
		if batchID == "" {
			if batchID, err = store.LatestBatchID(ctx); err != nil {
				return err
			}
		}
		if batchID == "" {
			return fmt.Errorf("no batches stored")
		}

		cases, err := listBatch(ctx, store, batchID)
		if err != nil {
			return err
		}

		records := make([]export.Record, 0, len(cases))
		for _, c := range cases {
			records = append(records, export.FromCase(c))
		}
		if err := export.WriteFile(out, records); err != nil {
			return err
		}

		log.Info("Exported batch", "batch_id", batchID, "cases", len(records), "path", out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportBatch, "batch", "", "batch id (default is the latest batch)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default is export from the config)")
}
