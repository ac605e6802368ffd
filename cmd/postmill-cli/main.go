// Postmill CLI — управление заданиями генерации, постами и аккаунтами
// через HTTP API.
//
// Использование:
//
//	postmill [--api-url URL] [--owner UUID] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	job      Задания генерации
//	post     Запланированные посты
//	account  Аккаунты платформ
//	stats    Сводка
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/postmill/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var owner string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "postmill",
		Short:         "Postmill CLI: image generation and social publishing",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("POSTMILL_API_URL", "http://localhost:8080"), "API server URL")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", os.Getenv("POSTMILL_OWNER"), "Owner ID sent as X-Owner-ID")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL, owner) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewJobCmd(clientFn, outputFn),
		cli.NewPostCmd(clientFn, outputFn),
		cli.NewAccountCmd(clientFn, outputFn),
		cli.NewStatsCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
