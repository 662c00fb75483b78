package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/ledger"
)

var ledgerPath string

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	rootCmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Inspect and maintain the order relay ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", envOr("LEDGER_PATH", "data/ledger.db"), "BoltDB ledger file")

	rootCmd.AddCommand(recordsCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(receiptCmd())
	rootCmd.AddCommand(compactCmd())
	rootCmd.AddCommand(pruneWebhooksCmd())
	rootCmd.AddCommand(recoverCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// openLedger opens the on-disk ledger. The server holds the file lock while it runs.
func openLedger() (*ledger.Store, error) {
	if ledgerPath == "" || ledgerPath == "memory" {
		return nil, fmt.Errorf("relayctl needs a ledger file; LEDGER_PATH is %q", ledgerPath)
	}
	store, err := ledger.OpenBolt(ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("%w (is the server running?)", err)
	}
	return store, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
