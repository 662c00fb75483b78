package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

func recordsCmd() *cobra.Command {
	var states []string
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List processing records",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]domain.ProcessingState, 0, len(states))
			for _, s := range states {
				st := domain.ProcessingState(strings.ToUpper(strings.TrimSpace(s)))
				if !st.IsValid() {
					return fmt.Errorf("unknown state %q", s)
				}
				filter = append(filter, st)
			}

			store, err := openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.List(cmd.Context(), filter...)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tSTATE\tTRACKING\tRECEIPT\tATTEMPTS\tUPDATED")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.OrderID, r.State, dash(r.TrackingNumber), dash(r.ReceiptID), r.Attempts,
					r.UpdatedAt.Format(time.RFC3339))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d record(s)\n", len(recs))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&states, "state", "s", nil, "Filter by state (repeatable)")
	return cmd
}

func recordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <order-id>",
		Short: "Show one processing record with its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(cmd.Context(), domain.OrderID(args[0]))
			if err != nil {
				return err
			}
			if rec.State == domain.StateUnseen {
				return &errors.ErrNotFound{Resource: "processing record", ID: args[0]}
			}
			return printJSON(rec)
		},
	}
}

func receiptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <order-id>",
		Short: "Show the fiscal receipt issued for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			receipt, err := store.GetReceiptRecord(cmd.Context(), domain.OrderID(args[0]))
			if err != nil {
				return err
			}
			if receipt == nil {
				return &errors.ErrNotFound{Resource: "fiscal receipt", ID: args[0]}
			}
			return printJSON(receipt)
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
