package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var jobHeaders = []string{"ID", "STATE", "STYLE", "SIZE", "ATTEMPTS", "CREATED"}

func jobRow(j JobResponse) []string {
	return []string{
		j.ID,
		j.State,
		j.Prompt.Style,
		fmt.Sprintf("%dx%d", j.Prompt.Width, j.Prompt.Height),
		strconv.Itoa(j.AttemptCount),
		j.CreatedAt,
	}
}

// NewJobCmd создаёт группу команд для заданий генерации.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage image generation jobs",
	}

	cmd.AddCommand(
		newJobSubmitCmd(clientFn, outputFn),
		newJobGetCmd(clientFn, outputFn),
		newJobListCmd(clientFn, outputFn),
		newJobReviewCmd(clientFn, outputFn, "validate", "Approve a generated image"),
		newJobReviewCmd(clientFn, outputFn, "reject", "Reject a generated image"),
	)

	return cmd
}

func newJobSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req SubmitJobRequest

	cmd := &cobra.Command{
		Use:   "submit PROMPT",
		Short: "Submit a new generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			req.Prompt = args[0]
			job, err := clientFn().SubmitJob(cmd.Context(), req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job submitted: %s", job.ID))
			out.Print(jobHeaders, [][]string{jobRow(*job)}, job)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.NegativePrompt, "negative", "", "What the image must not contain")
	cmd.Flags().StringVar(&req.Style, "style", "", "Style (realistic, artistic, cartoon, abstract, minimalist)")
	cmd.Flags().IntVar(&req.Width, "width", 0, "Width in pixels (256-2048)")
	cmd.Flags().IntVar(&req.Height, "height", 0, "Height in pixels (256-2048)")
	cmd.Flags().StringVar(&req.Quality, "quality", "", "Quality (standard, hd)")

	return cmd
}

func newJobGetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:     "get ID",
		Aliases: []string{"show"},
		Short:   "Show job details",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := clientFn().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			outputFn().Print(
				[]string{"ID", "STATE", "PROMPT", "RESULT", "ERROR"},
				[][]string{{job.ID, job.State, job.Prompt.Text, job.ResultRef, job.LastError}},
				job,
			)
			return nil
		},
	}
}

func newJobListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generation jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := clientFn().ListJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = jobRow(j)
			}
			outputFn().Print(jobHeaders, rows, jobs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newJobReviewCmd(clientFn func() *Client, outputFn func() *Output, action, short string) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   action + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			review := client.ValidateJob
			if action == "reject" {
				review = client.RejectJob
			}

			job, err := review(cmd.Context(), args[0], notes)
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Job %s: %s", job.ID, job.State))
			return nil
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Review notes")

	return cmd
}
