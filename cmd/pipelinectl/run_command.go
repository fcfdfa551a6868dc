package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var projectID string
	var disabled []string
	var rerun bool

	cmd := &cobra.Command{
		Use:   "run --project ID [FILE...]",
		Short: "Upload artifacts and run the pipeline in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return errors.New("--project is required")
			}
			if len(args) == 0 && !rerun {
				return errors.New("at least one file is required unless --rerun is set")
			}

			app, err := ctx.openApp(cmd.Context(), cmd, disabled)
			if err != nil {
				return err
			}
			defer app.Close()

			req := domain.RunRequest{ProjectID: projectID, Trigger: domain.TriggerRerun}
			if len(args) > 0 {
				files, closeAll, err := openFiles(args)
				if err != nil {
					return err
				}
				batch, err := app.IngestUC.Upload(cmd.Context(), projectID, files)
				closeAll()
				if err != nil {
					return err
				}
				req = domain.RunRequest{ProjectID: batch.ProjectID, Artifacts: batch.Artifacts, Trigger: domain.TriggerUpload}
			}

			project, run, err := app.PipelineUC.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if ctx.flags.json {
				return writeJSON(cmd, runResponse{ProjectID: project.ID, Status: project.Status, Run: run})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRun(project, run))
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project id")
	cmd.Flags().StringSliceVar(&disabled, "disable", nil, "Disable manifest modules for this run")
	cmd.Flags().BoolVar(&rerun, "rerun", false, "Rerun every stage against all stored artifacts")
	return cmd
}

type runResponse struct {
	ProjectID string               `json:"project_id"`
	Status    domain.ProjectStatus `json:"status"`
	Run       *domain.RunRecord    `json:"run"`
}

func openFiles(paths []string) ([]ports.UploadFile, func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	files := make([]ports.UploadFile, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("open %s: %w", path, err)
		}
		opened = append(opened, f)
		files = append(files, ports.UploadFile{Filename: filepath.Base(path), Body: f})
	}
	return files, closeAll, nil
}

func renderRun(project *domain.Project, run *domain.RunRecord) string {
	rows := make([][]string, 0, len(run.Outcomes))
	for _, outcome := range run.Outcomes {
		rows = append(rows, []string{
			outcome.Name,
			string(outcome.Status),
			strconv.FormatFloat(outcome.DurationMS, 'f', 1, 64),
			outcome.ErrorMessage,
		})
	}
	out := renderTable(
		[]string{"Stage", "Status", "Duration ms", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	)
	return fmt.Sprintf("%s\nrun %s: %s, project %s: %s\n", out, run.RunID, run.Status, project.ID, project.Status)
}
