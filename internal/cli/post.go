package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var postHeaders = []string{"ID", "PLATFORM", "STATE", "SCHEDULED", "ATTEMPTS", "ERROR"}

func postRow(p PostResponse) []string {
	return []string{p.ID, p.Platform, p.State, p.ScheduledAt, strconv.Itoa(p.AttemptCount), p.LastError}
}

// NewPostCmd создаёт группу команд для запланированных постов.
func NewPostCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Manage scheduled posts",
	}

	cmd.AddCommand(
		newPostScheduleCmd(clientFn, outputFn),
		newPostGetCmd(clientFn, outputFn),
		newPostListCmd(clientFn, outputFn),
		newPostCancelCmd(clientFn, outputFn),
		newPostPublishCmd(clientFn, outputFn),
		newPostAnalyticsCmd(clientFn, outputFn),
		newPostSyncCmd(clientFn, outputFn),
	)

	return cmd
}

func newPostScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req SchedulePostRequest
	var at string
	var in time.Duration

	cmd := &cobra.Command{
		Use:   "schedule ARTIFACT_ID",
		Short: "Schedule an approved image for publishing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ArtifactID = args[0]
			switch {
			case at != "" && in != 0:
				return fmt.Errorf("--at and --in are mutually exclusive")
			case at != "":
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at %q, expected RFC3339: %w", at, err)
				}
				req.ScheduledAt = t
			case in > 0:
				req.ScheduledAt = time.Now().Add(in)
			default:
				return fmt.Errorf("one of --at or --in is required")
			}

			post, err := clientFn().SchedulePost(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Post scheduled: %s", post.ID))
			out.Print(postHeaders, [][]string{postRow(*post)}, post)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Platform, "platform", "", "Target platform (instagram, facebook, twitter, linkedin)")
	cmd.Flags().StringVar(&at, "at", "", "Publish time, RFC3339")
	cmd.Flags().DurationVar(&in, "in", 0, "Publish after this delay (e.g. 2h)")
	cmd.Flags().StringVar(&req.Caption, "caption", "", "Post caption")
	cmd.Flags().StringVar(&req.Hashtags, "hashtags", "", "Hashtags, space or comma separated")
	_ = cmd.MarkFlagRequired("platform")

	return cmd
}

func newPostGetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:     "get ID",
		Aliases: []string{"show"},
		Short:   "Show post details",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			post, err := clientFn().GetPost(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			outputFn().Print(
				[]string{"ID", "PLATFORM", "STATE", "SCHEDULED", "POSTED", "URL", "ERROR"},
				[][]string{{post.ID, post.Platform, post.State, post.ScheduledAt, post.PostedAt, post.PostURL, post.LastError}},
				post,
			)
			return nil
		},
	}
}

func newPostListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			posts, err := clientFn().ListPosts(cmd.Context(), limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(posts))
			for i, p := range posts {
				rows[i] = postRow(p)
			}
			outputFn().Print(postHeaders, rows, posts)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newPostCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a scheduled or failed post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cancelled, err := clientFn().CancelPost(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !cancelled {
				return fmt.Errorf("post %s cannot be cancelled in its current state", args[0])
			}

			outputFn().Success(fmt.Sprintf("Post cancelled: %s", args[0]))
			return nil
		},
	}
}

func newPostPublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "publish ID",
		Short: "Publish a post right away",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			post, err := clientFn().PublishNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Post %s: %s", post.ID, post.State))
			return nil
		},
	}
}

func newPostAnalyticsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "analytics ID",
		Short: "Show engagement metrics of a published post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := clientFn().GetAnalytics(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			synced := rec.LastSyncedAt
			if synced == "" {
				synced = "never"
			}
			outputFn().Print(
				[]string{"LIKES", "COMMENTS", "SHARES", "IMPRESSIONS", "ENGAGEMENT", "SYNCED"},
				[][]string{{
					strconv.FormatInt(rec.Likes, 10),
					strconv.FormatInt(rec.Comments, 10),
					strconv.FormatInt(rec.Shares, 10),
					strconv.FormatInt(rec.Impressions, 10),
					strconv.FormatFloat(rec.EngagementRate, 'f', 2, 64) + "%",
					synced,
				}},
				rec,
			)
			return nil
		},
	}
}

func newPostSyncCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "sync ID",
		Short: "Request an analytics refresh for a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().SyncAnalytics(cmd.Context(), args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Analytics sync queued: %s", args[0]))
			return nil
		},
	}
}
