package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/app"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail overdue pending payments once and retry failed payouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Engine.Sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired payments=%d subscription_payments=%d disbursements=%d; retried disbursements=%d\n",
					rep.Payments, rep.SubscriptionPayments, rep.StaleDisbursements, rep.Disbursements)
				return nil
			})
		},
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-disbursements",
		Short: "Re-send failed landlord payouts that still have attempts left",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.Disburser.RetryFailed(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "retried %d disbursements\n", n)
				return nil
			})
		},
	}
}
