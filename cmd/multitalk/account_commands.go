package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"multitalk/internal/config"
	"multitalk/internal/daemon"
	"multitalk/internal/services"
	"multitalk/internal/store"
)

func newAccountCommand(ctx *commandContext) *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect and adjust credit accounts",
	}
	accountCmd.AddCommand(newAccountShowCommand(ctx))
	accountCmd.AddCommand(newAccountListCommand(ctx))
	accountCmd.AddCommand(newAccountGrantCommand(ctx))
	return accountCmd
}

type accountView struct {
	Account   *store.Account        `json:"account"`
	Events    []*store.BillingEvent `json:"events"`
	Checkouts []*store.Checkout     `json:"checkouts"`
}

func newAccountShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <account-id>",
		Short: "Show an account with its billing history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps daemon.Components) error {
				account, err := comps.Ledger.Account(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				events, err := comps.Billing.Events(cmd.Context(), account.ID)
				if err != nil {
					return err
				}
				checkouts, err := comps.Billing.Checkouts(cmd.Context(), account.ID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, accountView{Account: account, Events: events, Checkouts: checkouts})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Account:  %s\n", account.ID)
				fmt.Fprintf(out, "Balance:  %s\n", formatBalance(account.Balance))
				fmt.Fprintf(out, "Plan:     %s (%s)\n", planTitle(account.Plan), account.PlanStatus)
				fmt.Fprintf(out, "Created:  %s\n", formatTime(account.CreatedAt))
				fmt.Fprintf(out, "Updated:  %s\n", formatTime(account.UpdatedAt))
				if len(events) > 0 {
					rows := make([][]string, 0, len(events))
					for _, ev := range events {
						rows = append(rows, []string{ev.ExternalEventID, ev.Source, string(ev.Type), planTitle(ev.TargetPlan), orDash(string(ev.TargetStatus)), formatTime(ev.ProcessedAt)})
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderTable([]string{"Event", "Source", "Type", "Plan", "Status", "Processed"}, rows, nil))
				}
				if len(checkouts) > 0 {
					rows := make([][]string, 0, len(checkouts))
					for _, co := range checkouts {
						rows = append(rows, []string{co.ID, planTitle(co.Plan), formatCents(co.PriceCents), string(co.Status), formatTime(co.CreatedAt)})
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderTable([]string{"Checkout", "Plan", "Price", "Status", "Created"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
				}
				return nil
			})
		},
	}
}

func newAccountListCommand(ctx *commandContext) *cobra.Command {
	var planFlag string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan store.Plan
			if planFlag != "" {
				parsed, err := store.ParsePlan(planFlag)
				if err != nil {
					return err
				}
				plan = parsed
			}
			return ctx.withComponents(func(_ *config.Config, comps daemon.Components) error {
				accounts, err := comps.Ledger.Accounts(cmd.Context(), plan)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if accounts == nil {
						accounts = []*store.Account{}
					}
					return writeJSON(cmd, accounts)
				}
				out := cmd.OutOrStdout()
				if len(accounts) == 0 {
					fmt.Fprintln(out, "No accounts")
					return nil
				}
				rows := make([][]string, 0, len(accounts))
				for _, account := range accounts {
					rows = append(rows, []string{account.ID, planTitle(account.Plan), string(account.PlanStatus), formatBalance(account.Balance), formatTime(account.UpdatedAt)})
				}
				fmt.Fprintln(out, renderTable([]string{"Account", "Plan", "Status", "Balance", "Updated"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&planFlag, "plan", "", "Only list accounts on this plan")
	return cmd
}

func newAccountGrantCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <account-id> <credits>",
		Short: "Add credits to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return services.Invalid("credits", "must be a positive integer")
			}
			return ctx.withComponents(func(cfg *config.Config, comps daemon.Components) error {
				if _, err := comps.Ledger.EnsureAccount(cmd.Context(), args[0], cfg.Credits.FreeTrialCredits, store.PlanFree); err != nil {
					return err
				}
				balance, err := comps.Ledger.Grant(cmd.Context(), args[0], amount)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"accountId": args[0], "balance": balance})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Granted %d credits to %s; balance is now %s\n", amount, args[0], formatBalance(balance))
				return nil
			})
		},
	}
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
