package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the configured tenant field schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		fields, err := loadSchema(ctx)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(fields.Fields)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tTYPE\tREQUIRED\tTHRESHOLD\tHINTS")
		for _, f := range fields.Fields {
			fmt.Fprintf(w, "%s\t%s\t%t\t%.2f\t%d\n",
				f.Key, f.Type, f.Required, f.Threshold(), len(f.SourceHints))
		}
		return w.Flush()
	},
}

func init() {
	schemaCmd.Flags().Bool("json", false, "emit schema as JSON")
	rootCmd.AddCommand(schemaCmd)
}
