package main

import (
	"github.com/SWORDIntel/spectra/internal/app"
	"github.com/SWORDIntel/spectra/internal/infra/config"
	"github.com/SWORDIntel/spectra/internal/infra/pr"

	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the account pool",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every configured account and its status",
	RunE:  runAccountsList,
}

var accountsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset usage counters and lift cooldowns for every account",
	RunE:  runAccountsReset,
}

var accountsTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Connect every account and report which ones authenticate successfully",
	RunE:  runAccountsTest,
}

var accountsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Register every account from the configuration document in the State Store",
	RunE:  runAccountsImport,
}

func init() {
	accountsCmd.AddCommand(accountsListCmd, accountsResetCmd, accountsTestCmd, accountsImportCmd)
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	rows, err := a.Store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	for _, acc := range rows {
		pr.Printf("%s\t%s\tusage=%d\terr=%q\n", acc.SessionID, acc.Status, acc.UsageCount, acc.LastError)
	}
	return nil
}

func runAccountsReset(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	rows, err := a.Store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	for _, acc := range rows {
		if err := a.Store.ResetAccountUsage(ctx, acc.SessionID); err != nil {
			return err
		}
	}
	pr.Printf("reset %d accounts\n", len(rows))
	return nil
}

func runAccountsTest(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	for _, m := range a.Pool.Members() {
		status := "ok"
		if !m.Available {
			status = "unavailable"
		}
		pr.Printf("%s\t%s\n", m.Identifier, status)
	}
	return nil
}

func runAccountsImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	pr.Printf("imported %d accounts from %s\n", len(config.Env().Accounts()), flagConfigPath)
	return nil
}
