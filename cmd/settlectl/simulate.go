package main

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/config"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/mpesa"
)

type simulateOptions struct {
	kind       string
	paymentID  string
	checkoutID string
	amount     string
	receipt    string
	phone      string
	resultCode int
	url        string
	dryRun     bool
}

func simulateCmd() *cobra.Command {
	var o simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate-callback",
		Short: "Post a gateway-shaped STK callback to a running server",
		Example: `  settlectl simulate-callback --kind rent --payment 6f1c... --amount 15000 --receipt QWE123 --phone 254722000222
  settlectl simulate-callback --kind subscription --checkout ws_CO_123 --result-code 1032`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.kind, "kind", "rent", "rent | deposit | subscription")
	f.StringVar(&o.paymentID, "payment", "", "payment id sent as AccountReference")
	f.StringVar(&o.checkoutID, "checkout", "", "CheckoutRequestID (random when empty)")
	f.StringVar(&o.amount, "amount", "", "amount paid")
	f.StringVar(&o.receipt, "receipt", "", "gateway receipt (random when empty)")
	f.StringVar(&o.phone, "phone", "", "payer phone")
	f.IntVar(&o.resultCode, "result-code", 0, "0 for success, anything else fails the payment")
	f.StringVar(&o.url, "url", "", "callback URL (default CALLBACK_BASE_URL/callbacks/<kind>)")
	f.BoolVar(&o.dryRun, "dry-run", false, "print the body without sending it")
	return cmd
}

func runSimulate(cmd *cobra.Command, o simulateOptions) error {
	switch o.kind {
	case "rent", "deposit", "subscription":
	default:
		return fmt.Errorf("unknown --kind %q", o.kind)
	}

	in := mpesa.STKCallbackInput{
		CheckoutRequestID: o.checkoutID,
		ResultCode:        o.resultCode,
		Receipt:           o.receipt,
		Phone:             o.phone,
		AccountReference:  o.paymentID,
		TransactionDate:   time.Now().Format("20060102150405"),
	}
	if in.CheckoutRequestID == "" {
		in.CheckoutRequestID = "ws_CO_sim_" + uuid.NewString()[:8]
	}
	if o.resultCode == 0 {
		amt, err := decimal.NewFromString(o.amount)
		if err != nil {
			return fmt.Errorf("--amount: %w", err)
		}
		in.Amount = amt
		if in.Receipt == "" {
			in.Receipt = "SIM" + uuid.NewString()[:7]
		}
	}

	body, err := mpesa.BuildSTKCallback(in)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Body: %s\n", body)
	if o.dryRun {
		return nil
	}

	url := o.url
	if url == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		url = cfg.CallbackURL("/callbacks/" + o.kind)
	}

	resp, err := resty.New().SetTimeout(10*time.Second).R().
		SetContext(cmd.Context()).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	fmt.Fprintf(out, "Status: %d\nResponse: %s\n", resp.StatusCode(), resp.Body())
	if resp.IsError() {
		return fmt.Errorf("callback rejected with status %d", resp.StatusCode())
	}
	return nil
}
