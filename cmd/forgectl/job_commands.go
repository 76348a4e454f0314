package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/videoforge-api/internal/job"
	"github.com/maauso/videoforge-api/internal/server"
)

var errJobFailed = errors.New("render job failed")

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var analysisPath string
	var originID string
	var wait bool
	var interval time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit <manifest.json|manifest.toml|->",
		Short: "Submit a manifest to the render API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readManifestJSON(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			analysis, err := readOptionalJSON(analysisPath)
			if err != nil {
				return err
			}

			client := ctx.api()
			created, err := client.createJob(cmd.Context(), server.CreateJobRequest{
				Manifest: raw,
				Analysis: analysis,
				OriginID: originID,
			})
			if err != nil {
				return err
			}
			if !wait {
				if asJSON {
					return writeJSON(cmd, created)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s (%s)\n", created.JobID, created.Status)
				return nil
			}

			if !asJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s\n", created.JobID)
			}
			final, err := waitForJob(cmd, client, created.JobID, interval, !asJSON)
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(cmd, final); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderJob(final))
			}
			if final.Status == string(job.StatusFailed) {
				return fmt.Errorf("%w: %s", errJobFailed, final.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&analysisPath, "analysis", "", "JSON file forwarded to the composition")
	cmd.Flags().StringVar(&originID, "origin", "", "Upstream record to link the finished video to")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval with --wait")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

// waitForJob polls until the job reaches a terminal status. Progress lines
// are printed only when they change.
func waitForJob(cmd *cobra.Command, client *apiClient, id string, interval time.Duration, verbose bool) (*server.JobResponse, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastLine := ""
	for {
		j, err := client.getJob(cmd.Context(), id)
		if err != nil {
			return nil, err
		}
		if verbose {
			line := progressLine(j)
			if line != lastLine {
				fmt.Fprintln(cmd.OutOrStdout(), line)
				lastLine = line
			}
		}
		if j.Status != string(job.StatusProcessing) {
			return j, nil
		}

		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func progressLine(j *server.JobResponse) string {
	line := fmt.Sprintf("[%3d%%] %s", j.Progress, j.Stage)
	if j.ProgressLabel != "" {
		line += ": " + j.ProgressLabel
	}
	return line
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a render job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := ctx.api().getJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, j)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), renderJob(j)+"\n")
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderJob(j *server.JobResponse) string {
	completed := ""
	if j.CompletedAt != nil {
		completed = j.CompletedAt.Format(time.RFC3339)
	}
	return renderKeyValues([][2]string{
		{"ID", j.ID},
		{"Status", j.Status},
		{"Stage", j.Stage},
		{"Progress", strconv.Itoa(j.Progress) + "%"},
		{"Label", j.ProgressLabel},
		{"Video", j.VideoURL},
		{"Error", j.Error},
		{"Origin", j.OriginID},
		{"Created", j.CreatedAt.Format(time.RFC3339)},
		{"Completed", completed},
	})
}
