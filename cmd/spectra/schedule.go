package main

import (
	"encoding/json"

	"github.com/SWORDIntel/spectra/internal/app"
	"github.com/SWORDIntel/spectra/internal/infra/pr"
	"github.com/SWORDIntel/spectra/internal/scheduler"
	"github.com/SWORDIntel/spectra/internal/store"

	"github.com/spf13/cobra"
)

var (
	schedChannelID    int64
	schedDestination  string
	schedSource       string
	schedCron         string
	schedFileTypes    string
	schedMinSize      int64
	schedMaxSize      int64
	schedPriority     int
	schedID           int64
	schedName         string
	schedShellCommand string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage and run scheduled channel/file forwarding jobs",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a generic scheduled shell-command job",
	RunE:  runScheduleAdd,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every scheduled job",
	RunE:  runScheduleList,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Disable a scheduled job",
	RunE:  runScheduleRemove,
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler daemon in the foreground until interrupted",
	RunE:  runScheduleRun,
}

var scheduleAddChannelForwardCmd = &cobra.Command{
	Use:   "add-channel-forward",
	Short: "Add a recurring channel_forward job",
	RunE:  runScheduleAddChannelForward,
}

var scheduleAddFileForwardCmd = &cobra.Command{
	Use:   "add-file-forward",
	Short: "Add a recurring file_forward job",
	RunE:  runScheduleAddFileForward,
}

var scheduleReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report the status of one schedule entry",
	RunE:  runScheduleReport,
}

func init() {
	scheduleAddCmd.Flags().StringVar(&schedName, "name", "", "job name (informational)")
	scheduleAddCmd.Flags().StringVar(&schedCron, "schedule", "", "cron expression (min hour dom month dow)")
	scheduleAddCmd.Flags().StringVar(&schedShellCommand, "command", "", "shell command to record for this job")
	_ = scheduleAddCmd.MarkFlagRequired("schedule")
	_ = scheduleAddCmd.MarkFlagRequired("command")

	scheduleRemoveCmd.Flags().Int64Var(&schedID, "id", 0, "schedule id to disable")
	_ = scheduleRemoveCmd.MarkFlagRequired("id")

	scheduleAddChannelForwardCmd.Flags().Int64Var(&schedChannelID, "channel-id", 0, "origin channel id")
	scheduleAddChannelForwardCmd.Flags().StringVar(&schedDestination, "destination", "", "destination channel id")
	scheduleAddChannelForwardCmd.Flags().StringVar(&schedCron, "schedule", "", "cron expression")
	_ = scheduleAddChannelForwardCmd.MarkFlagRequired("channel-id")
	_ = scheduleAddChannelForwardCmd.MarkFlagRequired("destination")
	_ = scheduleAddChannelForwardCmd.MarkFlagRequired("schedule")

	scheduleAddFileForwardCmd.Flags().StringVar(&schedSource, "source", "", "source channel id")
	scheduleAddFileForwardCmd.Flags().StringVar(&schedDestination, "destination", "", "destination channel id")
	scheduleAddFileForwardCmd.Flags().StringVar(&schedCron, "schedule", "", "cron expression")
	scheduleAddFileForwardCmd.Flags().StringVar(&schedFileTypes, "file-types", "", "comma-separated file extensions to forward")
	scheduleAddFileForwardCmd.Flags().Int64Var(&schedMinSize, "min-file-size", 0, "minimum file size in bytes")
	scheduleAddFileForwardCmd.Flags().Int64Var(&schedMaxSize, "max-file-size", 0, "maximum file size in bytes")
	scheduleAddFileForwardCmd.Flags().IntVar(&schedPriority, "priority", 0, "schedule priority (higher drains first)")
	_ = scheduleAddFileForwardCmd.MarkFlagRequired("source")
	_ = scheduleAddFileForwardCmd.MarkFlagRequired("destination")
	_ = scheduleAddFileForwardCmd.MarkFlagRequired("schedule")

	scheduleReportCmd.Flags().Int64Var(&schedID, "schedule-id", 0, "schedule id to report on")
	_ = scheduleReportCmd.MarkFlagRequired("schedule-id")

	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd, scheduleRunCmd,
		scheduleAddChannelForwardCmd, scheduleAddFileForwardCmd, scheduleReportCmd)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	params, err := json.Marshal(scheduler.GenericParams{Command: schedShellCommand})
	if err != nil {
		return err
	}
	id, err := a.Store.CreateSchedule(ctx, store.ScheduleEntry{
		Kind: store.ScheduleGeneric, CronExpr: schedCron, ParamsJSON: string(params), Enabled: true,
	})
	if err != nil {
		return err
	}
	pr.Printf("created schedule %d (%s) %q\n", id, schedName, schedCron)
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	rows, err := a.Store.ListEnabledSchedules(ctx)
	if err != nil {
		return err
	}
	for _, e := range rows {
		pr.Printf("%d\t%s\t%s\tpriority=%d\n", e.ID, e.Kind, e.CronExpr, e.Priority)
	}
	return nil
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	return a.Store.SetScheduleEnabled(ctx, schedID, false)
}

func runScheduleRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.Scheduler.Stop()
	return nil
}

func runScheduleAddChannelForward(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	destID, err := parseChannelID(schedDestination)
	if err != nil {
		return err
	}
	params, err := json.Marshal(scheduler.ChannelForwardParams{Channel: schedChannelID, Dest: destID})
	if err != nil {
		return err
	}
	id, err := a.Store.CreateSchedule(ctx, store.ScheduleEntry{
		Kind: store.ScheduleChannelForward, CronExpr: schedCron, ParamsJSON: string(params), Enabled: true,
	})
	if err != nil {
		return err
	}
	pr.Printf("created channel_forward schedule %d\n", id)
	return nil
}

func runScheduleAddFileForward(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	sourceID, err := parseChannelID(schedSource)
	if err != nil {
		return err
	}
	destID, err := parseChannelID(schedDestination)
	if err != nil {
		return err
	}
	params, err := json.Marshal(scheduler.FileForwardParams{
		Source: sourceID, Dest: destID, Types: schedFileTypes, MinSize: schedMinSize, MaxSize: schedMaxSize, Priority: schedPriority,
	})
	if err != nil {
		return err
	}
	id, err := a.Store.CreateSchedule(ctx, store.ScheduleEntry{
		Kind: store.ScheduleFileForward, CronExpr: schedCron, ParamsJSON: string(params), Priority: schedPriority, Enabled: true,
	})
	if err != nil {
		return err
	}
	pr.Printf("created file_forward schedule %d\n", id)
	return nil
}

func runScheduleReport(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	entry, err := a.Store.GetSchedule(ctx, schedID)
	if err != nil {
		return err
	}
	lastRun := "never"
	if entry.LastRunAt != nil {
		lastRun = entry.LastRunAt.String()
	}
	pr.Printf("schedule %d: kind=%s cron=%q enabled=%v last_run=%s params=%s\n",
		entry.ID, entry.Kind, entry.CronExpr, entry.Enabled, lastRun, entry.ParamsJSON)
	return nil
}
