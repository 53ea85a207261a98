package main

import (
	"fmt"
	"strconv"

	"github.com/SWORDIntel/spectra/internal/app"
	"github.com/SWORDIntel/spectra/internal/forwarder"
	"github.com/SWORDIntel/spectra/internal/grouper"
	"github.com/SWORDIntel/spectra/internal/infra/config"
	"github.com/SWORDIntel/spectra/internal/infra/logger"

	"github.com/spf13/cobra"
)

var (
	fwdOrigin            string
	fwdDestination       string
	fwdAccount           string
	fwdTotalMode         bool
	fwdForwardToAllSaved bool
	fwdPrependOriginInfo bool
	fwdSecondaryDest     string
)

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Forward messages between channels, optionally organizing them into topics",
	RunE:  runForward,
}

func init() {
	forwardCmd.Flags().StringVar(&fwdOrigin, "origin", "", "origin channel/chat id for direct forwarding")
	forwardCmd.Flags().StringVar(&fwdDestination, "destination", "", "destination channel/chat id (uses config default if unset)")
	forwardCmd.Flags().StringVar(&fwdAccount, "account", "", "specific account identifier to use")
	forwardCmd.Flags().BoolVar(&fwdTotalMode, "total-mode", false, "forward from every channel the account pool can access to the destination")
	forwardCmd.Flags().BoolVar(&fwdForwardToAllSaved, "forward-to-all-saved", false, "also forward every message to every account's Saved Messages")
	forwardCmd.Flags().BoolVar(&fwdPrependOriginInfo, "prepend-origin-info", false, "prepend origin channel attribution to forwarded text")
	forwardCmd.Flags().StringVar(&fwdSecondaryDest, "secondary-unique-destination", "", "secondary destination for deduplicated-unique messages only")
}

func runForward(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	destID, err := resolveDestination(fwdDestination)
	if err != nil {
		return err
	}

	fwd, err := a.BuildForwarder(ctx, fwdAccount, destID)
	if err != nil {
		return err
	}

	env := config.Env()
	opts := forwarder.Options{
		DestinationID:             destID,
		AccountIdentifier:         fwdAccount,
		ForwardWithAttribution:    fwdPrependOriginInfo || env.Forwarding().ForwardWithAttribution,
		Attribution:               attributionFromConfig(),
		ForwardToAllSavedMessages: fwdForwardToAllSaved,
		SecondaryDestination:      env.Forwarding().SecondaryUniqueDestination,
		GroupingStrategy:          grouper.Strategy(env.GroupingStrategy()),
		GroupingWindowSeconds:     int64(env.GroupingWindow().Seconds()),
		GroupBySameSender:         true,
		MediaOnly:                 true,
	}
	if fwdSecondaryDest != "" {
		secID, err := parseChannelID(fwdSecondaryDest)
		if err != nil {
			return fmt.Errorf("secondary-unique-destination: %w", err)
		}
		opts.SecondaryDestination = secID
	}

	if fwdTotalMode {
		stats, err := fwd.TotalForward(ctx, destID, opts)
		if err != nil {
			return err
		}
		logger.Infof("forward: total mode complete: %+v", stats)
		return nil
	}

	if fwdOrigin == "" {
		return fmt.Errorf("forward: --origin is required unless --total-mode is set")
	}
	originID, err := parseChannelID(fwdOrigin)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	opts.OriginID = originID

	lastID, stats, err := fwd.Run(ctx, opts)
	if err != nil {
		return err
	}
	logger.Infof("forward: complete, last message id %d, stats %+v", lastID, stats)
	return nil
}

func resolveDestination(flag string) (int64, error) {
	if flag != "" {
		return parseChannelID(flag)
	}
	if id := config.Env().Forwarding().DefaultDestinationID; id != 0 {
		return id, nil
	}
	return 0, fmt.Errorf("forward: --destination is required and no default_destination_id is configured")
}

// attributionFromConfig переносит блок attribution конфигурации в опции форвардера.
func attributionFromConfig() forwarder.Attribution {
	att := config.Env().Attribution()
	disabled := make(map[int64]bool, len(att.DisableForDests))
	for _, id := range att.DisableForDests {
		disabled[id] = true
	}
	return forwarder.Attribution{
		Template:        att.Template,
		TimestampFormat: att.TimestampFormat,
		DisableForDests: disabled,
	}
}

func parseChannelID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q: %w", raw, err)
	}
	return id, nil
}
