package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func compactCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Collapse history of settled records",
		Long: `Compact FULFILLED and REFUNDED records not updated within --older-than.
History keeps its first and last entries; refunded receipts drop the raw
provider response. Order, shipment and receipt identifiers are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Compact(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("Compacted %d record(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 720*time.Hour, "Only compact records older than this")
	return cmd
}

func pruneWebhooksCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune-webhooks",
		Short: "Remove webhook fingerprints past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PruneWebhooks(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d webhook fingerprint(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 72*time.Hour, "Only prune fingerprints older than this")
	return cmd
}

func recoverCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Release orders stuck in processing or mid-refund",
		Long: `Move CONFIRMED_PROCESSING records not updated within --older-than to FAILED
and release stale refund claims, so they can be retried through
POST /orders/:id/process or cancelled again. The server does this on start;
use it when a run was lost without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.RecoverInterrupted(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			fmt.Printf("Recovered %d order(s)\n", len(ids))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "Only recover records untouched for this long")
	return cmd
}
