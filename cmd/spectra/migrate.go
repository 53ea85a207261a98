package main

import (
	"github.com/SWORDIntel/spectra/internal/app"
	"github.com/SWORDIntel/spectra/internal/forwarder"
	"github.com/SWORDIntel/spectra/internal/infra/pr"
	"github.com/SWORDIntel/spectra/internal/store"

	"github.com/spf13/cobra"
)

var (
	migrateSource      string
	migrateDestination string
	migrateDryRun      bool
)

// migrateCmd — разовый массовый перенос всех сообщений из source в destination
// с возобновлением по строке mirror_progress, если прошлый прогон был прерван.
// Прогресс ключуется парой (источник, назначение): migrate и rollback адресуют
// миграцию парой каналов, а не синтетическим номером.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move every message from source to destination, resuming an interrupted run if any",
	RunE:  runMigrate,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Mark a (source, destination) migration as rolled back so it can be re-run from scratch",
	RunE:  runRollback,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateSource, "source", "", "source channel id")
	migrateCmd.Flags().StringVar(&migrateDestination, "destination", "", "destination channel id")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "report the resume point without forwarding anything")
	_ = migrateCmd.MarkFlagRequired("source")
	_ = migrateCmd.MarkFlagRequired("destination")

	rollbackCmd.Flags().StringVar(&migrateSource, "source", "", "source channel id")
	rollbackCmd.Flags().StringVar(&migrateDestination, "destination", "", "destination channel id")
	_ = rollbackCmd.MarkFlagRequired("source")
	_ = rollbackCmd.MarkFlagRequired("destination")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	sourceID, err := parseChannelID(migrateSource)
	if err != nil {
		return err
	}
	destID, err := parseChannelID(migrateDestination)
	if err != nil {
		return err
	}

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	progress, err := a.Store.GetMirrorProgress(ctx, sourceID, destID)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	resumeFrom := progress.LastMessageID + 1

	if migrateDryRun {
		pr.Printf("migrate: would resume %d -> %d from message id %d (status=%s)\n", sourceID, destID, resumeFrom, progress.Status)
		return nil
	}

	progress.SourceChannel, progress.DestChannel, progress.Status = sourceID, destID, "running"
	if err := a.Store.SetMirrorProgress(ctx, progress); err != nil {
		return err
	}

	fwd, err := a.BuildForwarder(ctx, "", destID)
	if err != nil {
		return err
	}
	lastID, stats, runErr := fwd.Run(ctx, forwarder.Options{
		OriginID:               sourceID,
		DestinationID:          destID,
		StartMessageID:         resumeFrom,
		ForwardWithAttribution: true,
	})

	if lastID > 0 {
		progress.LastMessageID = lastID
	}
	if runErr != nil {
		progress.Status = "error"
	} else {
		progress.Status = "complete"
	}
	if err := a.Store.SetMirrorProgress(ctx, progress); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	pr.Printf("migrate: %d -> %d complete at message %d, stats %+v\n", sourceID, destID, lastID, stats)
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	sourceID, err := parseChannelID(migrateSource)
	if err != nil {
		return err
	}
	destID, err := parseChannelID(migrateDestination)
	if err != nil {
		return err
	}

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	progress, err := a.Store.GetMirrorProgress(ctx, sourceID, destID)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	progress.SourceChannel, progress.DestChannel = sourceID, destID
	progress.LastMessageID = 0
	progress.Status = "rolled_back"
	if err := a.Store.SetMirrorProgress(ctx, progress); err != nil {
		return err
	}
	pr.Printf("rollback: %d -> %d reset, next migrate will start from the beginning\n", sourceID, destID)
	return nil
}
