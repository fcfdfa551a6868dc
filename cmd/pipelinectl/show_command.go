package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/construction-pipeline/internal/core/usecase"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var view string

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a project summary or another on-demand view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.openApp(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Modules.Render(cmd.Context(), args[0], view, nil)
			if err != nil {
				return err
			}
			summary, ok := result.(*usecase.Summary)
			if ctx.flags.json || !ok {
				return writeJSON(cmd, result)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSummary(summary))
			return nil
		},
	}

	cmd.Flags().StringVar(&view, "view", usecase.ModuleSummary, "View module: summary or resource_sheet")
	return cmd
}

func renderSummary(s *usecase.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "project %s: %s, %d artifacts\n", s.ProjectID, s.Status, s.Artifacts)

	stageRows := make([][]string, 0, len(s.Stages))
	for _, stage := range s.Stages {
		stageRows = append(stageRows, []string{stage.Key, string(stage.Availability), strconv.Itoa(stage.Items), stage.ProducedAt})
	}
	b.WriteString(renderTable(
		[]string{"Stage", "Availability", "Items", "Produced"},
		stageRows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
	b.WriteString("\n")

	if len(s.Aggregates) > 0 {
		aggRows := make([][]string, 0, len(s.Aggregates))
		for _, agg := range s.Aggregates {
			value := "null"
			if agg.Value != nil {
				value = strconv.FormatFloat(*agg.Value, 'f', 2, 64)
			}
			aggRows = append(aggRows, []string{agg.Name, value, agg.Unit, agg.Reason})
		}
		b.WriteString(renderTable(
			[]string{"Aggregate", "Value", "Unit", "Reason"},
			aggRows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
		))
		b.WriteString("\n")
	}
	return b.String()
}
