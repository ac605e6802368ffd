package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

// NewAccountCmd создаёт группу команд для аккаунтов платформ.
func NewAccountCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage linked platform accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "link PLATFORM ACCOUNT_ID",
		Short: "Link a platform account (business account, page or handle)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := clientFn().LinkAccount(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Linked %s account %s", acc.Platform, acc.AccountID))
			return nil
		},
	})

	return cmd
}

// NewStatsCmd создаёт команду сводки.
func NewStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job, post and engagement counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := clientFn().Stats(cmd.Context())
			if err != nil {
				return err
			}

			var rows [][]string
			rows = appendCounts(rows, "jobs", stats.Jobs)
			rows = appendCounts(rows, "posts", stats.Posts)
			rows = appendCounts(rows, "platforms", stats.Platforms)
			rows = append(rows, []string{"engagement", "average", strconv.FormatFloat(stats.AverageEngagement, 'f', 2, 64) + "%"})

			outputFn().Print([]string{"GROUP", "KEY", "VALUE"}, rows, stats)
			return nil
		},
	}
}

func appendCounts(rows [][]string, group string, counts map[string]int) [][]string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, []string{group, k, strconv.Itoa(counts[k])})
	}
	return rows
}
