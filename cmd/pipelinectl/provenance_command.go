package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newProvenanceCommand(ctx *commandContext) *cobra.Command {
	var versions bool

	cmd := &cobra.Command{
		Use:   "provenance ID ITEM",
		Short: "Trace one item back to its source artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.openApp(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			if versions {
				records, err := app.QueryUC.ProvenanceVersions(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if ctx.flags.json {
					return writeJSON(cmd, records)
				}
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{strconv.Itoa(rec.Version), rec.Stage, rec.SourcePath, rec.ContentHash})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Version", "Stage", "Source", "Content hash"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			}

			record, err := app.QueryUC.Provenance(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if ctx.flags.json {
				return writeJSON(cmd, record)
			}
			rows := [][]string{
				{"item", record.ItemID},
				{"stage", record.Stage},
				{"source", record.SourcePath},
				{"sheet/page", record.SheetOrPage},
				{"offset", fmt.Sprintf("%d (%s)", record.Offset, record.OffsetKind)},
				{"content hash", record.ContentHash},
				{"extracted at", record.ExtractedAt.Format("2006-01-02 15:04:05Z07:00")},
				{"confidence", strconv.FormatFloat(record.Confidence, 'f', 2, 64)},
				{"version", strconv.Itoa(record.Version)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().BoolVar(&versions, "versions", false, "List every provenance version of the item")
	return cmd
}
