package main

import (
	"github.com/SWORDIntel/spectra/internal/app"
	"github.com/SWORDIntel/spectra/internal/infra/pr"

	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage channel-access information",
}

var channelsUpdateAccessCmd = &cobra.Command{
	Use:   "update-access",
	Short: "Refresh which channels each account can currently see",
	RunE:  runChannelsUpdateAccess,
}

func init() {
	channelsCmd.AddCommand(channelsUpdateAccessCmd)
}

func runChannelsUpdateAccess(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	res := a.Access.Refresh(ctx)
	pr.Printf("scanned=%d skipped=%d channels_seen=%d errors=%d\n",
		res.AccountsScanned, res.AccountsSkipped, res.ChannelsSeen, len(res.Errors))
	for _, err := range res.Errors {
		pr.Printf("  - %v\n", err)
	}
	return nil
}
