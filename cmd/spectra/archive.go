package main

import (
	"fmt"

	"github.com/SWORDIntel/spectra/internal/app"
	"github.com/SWORDIntel/spectra/internal/forwarder"
	"github.com/SWORDIntel/spectra/internal/grouper"
	"github.com/SWORDIntel/spectra/internal/infra/config"
	"github.com/SWORDIntel/spectra/internal/infra/logger"

	"github.com/spf13/cobra"
)

var (
	archiveEntity string
	archiveNoAuto bool
)

// archiveCmd — архивация одного источника: полный конвейер
// выборка-группировка-дедупликация-организация в настроенное назначение,
// с атрибуцией каждого сообщения к его каналу-источнику.
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive one channel/group into the configured destination, organized by topic",
	RunE:  runArchive,
}

func init() {
	archiveCmd.Flags().StringVar(&archiveEntity, "entity", "", "channel/group to archive (numeric id)")
	archiveCmd.Flags().StringVar(&fwdDestination, "destination", "", "destination channel/chat id (uses config default if unset)")
	archiveCmd.Flags().StringVar(&fwdAccount, "account", "", "specific account identifier to use")
	archiveCmd.Flags().BoolVar(&archiveNoAuto, "no-auto", false, "require --account instead of round-robin account selection")
	_ = archiveCmd.MarkFlagRequired("entity")
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	originID, err := parseChannelID(archiveEntity)
	if err != nil {
		return fmt.Errorf("entity: %w", err)
	}
	if archiveNoAuto && fwdAccount == "" {
		return fmt.Errorf("archive: --account is required when --no-auto is set")
	}

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

	lastID, stats, err := fwd.Run(ctx, forwarder.Options{
		OriginID:               originID,
		DestinationID:          destID,
		AccountIdentifier:      fwdAccount,
		ForwardWithAttribution: true,
		Attribution:            attributionFromConfig(),
		GroupingStrategy:       grouper.Strategy(config.Env().GroupingStrategy()),
		GroupingWindowSeconds:  int64(config.Env().GroupingWindow().Seconds()),
		GroupBySameSender:      true,
		MediaOnly:              true,
	})
	if err != nil {
		return err
	}
	logger.Infof("archive: %d complete, last message id %d, stats %+v", originID, lastID, stats)
	return nil
}
