package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"multitalk/internal/billing"
	"multitalk/internal/config"
	"multitalk/internal/daemon"
	"multitalk/internal/services"
)

func newBillingCommand(ctx *commandContext) *cobra.Command {
	billingCmd := &cobra.Command{
		Use:   "billing",
		Short: "Subscription billing utilities",
	}
	billingCmd.AddCommand(newBillingApplyCommand(ctx))
	billingCmd.AddCommand(newBillingCheckoutCommand(ctx))
	return billingCmd
}

func newBillingApplyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <event.json>",
		Short: "Replay a billing event through the reconciler",
		Long: "Replay a billing event through the reconciler.\n\n" +
			"The file holds one event object with externalEventId, type, accountId, and\n" +
			"optionally targetPlan, targetStatus, and source. Replaying an event that was\n" +
			"already processed reports a duplicate and changes nothing.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read event file: %w", err)
			}
			var event billing.Event
			if err := json.Unmarshal(data, &event); err != nil {
				return services.Invalid("body", "invalid event JSON: %v", err)
			}
			return ctx.withComponents(func(_ *config.Config, comps daemon.Components) error {
				result, err := comps.Billing.Apply(cmd.Context(), event)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"result": result, "eventId": event.ExternalEventID})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Event %s: %s\n", event.ExternalEventID, result)
				return nil
			})
		},
	}
}

func newBillingCheckoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <account-id> <plan>",
		Short: "Create a pending subscription checkout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps daemon.Components) error {
				checkout, err := comps.Billing.Checkout(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, checkout)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Checkout %s for %s (%s)\n", checkout.ID, planTitle(checkout.Plan), formatCents(checkout.PriceCents))
				fmt.Fprintln(out, checkout.CheckoutURL)
				return nil
			})
		},
	}
}
