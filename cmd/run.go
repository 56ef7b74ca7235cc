package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/model"
)

var (
	runTenant string
	runURL    string
	runSchema string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one intake submission end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sub := &model.Submission{
			TenantID:      runTenant,
			WebsiteURL:    runURL,
			SchemaVersion: runSchema,
		}
		if err := env.Store.CreateSubmission(ctx, sub); err != nil {
			return eris.Wrap(err, "create submission")
		}

		run, err := env.Intake.Start(ctx, sub.ID)
		if err != nil {
			return eris.Wrap(err, "intake run")
		}

		draft, err := env.Store.GetDraft(ctx, sub.ID)
		if err != nil {
			return eris.Wrap(err, "load draft")
		}

		zap.L().Info("intake complete",
			zap.String("submission_id", sub.ID),
			zap.String("run_id", run.ID),
			zap.Int("fields", len(draft.Fields)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(draft)
	},
}

func init() {
	runCmd.Flags().StringVar(&runTenant, "tenant", "", "tenant ID (required)")
	runCmd.Flags().StringVar(&runURL, "url", "", "company website URL (required)")
	runCmd.Flags().StringVar(&runSchema, "schema-version", "", "tenant schema version")
	_ = runCmd.MarkFlagRequired("tenant")
	_ = runCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(runCmd)
}
