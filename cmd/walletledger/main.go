package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/metergate/walletledger/internal/app"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "walletledger",
	Short: "Prepaid wallet ledger for metered provider usage",
	Long: `walletledger tracks prepaid balances on wallet keys and debits them
after every provider (LLM/TTS) call. It exposes debit, balance-check, and
status endpoints over HTTP, plus an admin surface for provisioning and
funding keys.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.RunServer(ctx, configPath)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Migrate(cmd.Context(), configPath)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("walletledger exited")
	}
}
