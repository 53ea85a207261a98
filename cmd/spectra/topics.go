package main

import (
	"time"

	"github.com/SWORDIntel/spectra/internal/app"
	"github.com/SWORDIntel/spectra/internal/infra/pr"
	"github.com/SWORDIntel/spectra/internal/store"

	"github.com/spf13/cobra"
)

var (
	topicsChannel  string
	topicsTopicID  int64
	topicsTitle    string
	topicsCategory string
	topicsDate     string

	topicsCfgMode            string
	topicsCfgStrategy        string
	topicsCfgFallback        string
	topicsCfgMaxTopics       int
	topicsCfgCooldownSeconds int
	topicsCfgGeneralTitle    string
	topicsCfgEnableClassify  bool
	topicsCfgAutoCleanup     bool
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage forum topics and topic-organization configuration for a channel",
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every active topic for a channel",
	RunE:  runTopicsList,
}

var topicsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a topic directly (bypasses the Organization Engine's rate limit bookkeeping)",
	RunE:  runTopicsCreate,
}

var topicsUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Bump a topic's last-activity timestamp",
	RunE:  runTopicsUpdate,
}

var topicsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Deactivate a topic so it is no longer resolved for new messages",
	RunE:  runTopicsDelete,
}

var topicsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show organization statistics for a channel on a given date (YYYY-MM-DD)",
	RunE:  runTopicsStats,
}

var topicsReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Alias of stats (same output)",
	RunE:  runTopicsStats,
}

var topicsConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set the per-channel OrganizationConfig override",
	RunE:  runTopicsConfig,
}

var topicsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Deactivate every topic with zero messages",
	RunE:  runTopicsCleanup,
}

func init() {
	topicsCmd.PersistentFlags().StringVar(&topicsChannel, "channel", "", "destination channel id (required)")
	_ = topicsCmd.MarkPersistentFlagRequired("channel")

	topicsCreateCmd.Flags().StringVar(&topicsTitle, "title", "", "topic title")
	topicsCreateCmd.Flags().StringVar(&topicsCategory, "category", "manual", "topic category label")
	_ = topicsCreateCmd.MarkFlagRequired("title")

	topicsUpdateCmd.Flags().Int64Var(&topicsTopicID, "topic-id", 0, "topic id to update")
	_ = topicsUpdateCmd.MarkFlagRequired("topic-id")

	topicsDeleteCmd.Flags().Int64Var(&topicsTopicID, "topic-id", 0, "topic id to deactivate")
	_ = topicsDeleteCmd.MarkFlagRequired("topic-id")

	topicsStatsCmd.Flags().StringVar(&topicsDate, "date", time.Now().Format("2006-01-02"), "date (YYYY-MM-DD)")
	topicsReportCmd.Flags().StringVar(&topicsDate, "date", time.Now().Format("2006-01-02"), "date (YYYY-MM-DD)")

	topicsConfigCmd.Flags().StringVar(&topicsCfgMode, "mode", "", "disabled|auto_create|existing_only|hybrid")
	topicsConfigCmd.Flags().StringVar(&topicsCfgStrategy, "topic-strategy", "", "content_type|date_based|file_extension")
	topicsConfigCmd.Flags().StringVar(&topicsCfgFallback, "fallback-strategy", "", "general_topic|no_topic|retry_once|queue_for_retry")
	topicsConfigCmd.Flags().IntVar(&topicsCfgMaxTopics, "max-topics", 0, "maximum topics per channel")
	topicsConfigCmd.Flags().IntVar(&topicsCfgCooldownSeconds, "cooldown-seconds", 0, "topic creation cooldown in seconds")
	topicsConfigCmd.Flags().StringVar(&topicsCfgGeneralTitle, "general-topic-title", "", "title for the fallback general topic")
	topicsConfigCmd.Flags().BoolVar(&topicsCfgEnableClassify, "enable-classification", false, "enable content classification for this channel")
	topicsConfigCmd.Flags().BoolVar(&topicsCfgAutoCleanup, "auto-cleanup", false, "automatically deactivate empty topics")

	topicsCmd.AddCommand(topicsListCmd, topicsCreateCmd, topicsUpdateCmd, topicsDeleteCmd,
		topicsStatsCmd, topicsReportCmd, topicsConfigCmd, topicsCleanupCmd)
}

func runTopicsList(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	channelID, err := parseChannelID(topicsChannel)
	if err != nil {
		return err
	}

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	rows, err := a.Store.ListTopics(ctx, channelID)
	if err != nil {
		return err
	}
	for _, t := range rows {
		pr.Printf("%d\t%s\t%s\t%d messages\tlast active %s\n", t.TopicID, t.Title, t.Category, t.MessageCount, t.LastActivityAt.Format(time.RFC3339))
	}
	return nil
}

func runTopicsCreate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	channelID, err := parseChannelID(topicsChannel)
	if err != nil {
		return err
	}

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	handle, err := a.Pool.Select(ctx, fwdAccount)
	if err != nil {
		return err
	}
	defer handle.Release()

	topicID, err := handle.Gateway.CreateForumTopic(ctx, channelID, topicsTitle, 0x3498db, 0, time.Now().UnixNano())
	if err != nil {
		return err
	}
	now := time.Now()
	if _, err := a.Store.UpsertTopic(ctx, store.ForumTopic{
		ChannelID: channelID, TopicID: topicID, Title: topicsTitle, Category: topicsCategory,
		CreatedAt: now, LastActivityAt: now, IsActive: true,
	}); err != nil {
		return err
	}
	pr.Printf("created topic %d (%q) in channel %d\n", topicID, topicsTitle, channelID)
	return nil
}

func runTopicsUpdate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	channelID, err := parseChannelID(topicsChannel)
	if err != nil {
		return err
	}

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	return a.Store.BumpTopicActivity(ctx, channelID, topicsTopicID, time.Now())
}

func runTopicsDelete(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	channelID, err := parseChannelID(topicsChannel)
	if err != nil {
		return err
	}

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	return a.Store.DeactivateTopic(ctx, channelID, topicsTopicID)
}

func runTopicsStats(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	channelID, err := parseChannelID(topicsChannel)
	if err != nil {
		return err
	}

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	stats, err := a.Store.GetStats(ctx, channelID, topicsDate)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	pr.Printf("channel %d, %s: processed=%d created=%d assigned=%d failed=%d fallback=%d categories=%v\n",
		stats.ChannelID, stats.Date, stats.MessagesProcessed, stats.TopicsCreated,
		stats.SuccessfulAssignments, stats.FailedAssignments, stats.FallbackUsed, stats.Categories)
	return nil
}

func runTopicsConfig(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	channelID, err := parseChannelID(topicsChannel)
	if err != nil {
		return err
	}

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	if !cmd.Flags().Changed("mode") && !cmd.Flags().Changed("topic-strategy") &&
		!cmd.Flags().Changed("fallback-strategy") && !cmd.Flags().Changed("max-topics") &&
		!cmd.Flags().Changed("cooldown-seconds") && !cmd.Flags().Changed("general-topic-title") &&
		!cmd.Flags().Changed("enable-classification") && !cmd.Flags().Changed("auto-cleanup") {
		current, err := a.Store.GetOrgConfig(ctx, channelID)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		pr.Printf("%+v\n", current)
		return nil
	}

	existing, err := a.Store.GetOrgConfig(ctx, channelID)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	existing.ChannelID = channelID
	if cmd.Flags().Changed("mode") {
		existing.Mode = topicsCfgMode
	}
	if cmd.Flags().Changed("topic-strategy") {
		existing.TopicStrategy = topicsCfgStrategy
	}
	if cmd.Flags().Changed("fallback-strategy") {
		existing.FallbackStrategy = topicsCfgFallback
	}
	if cmd.Flags().Changed("max-topics") {
		existing.MaxTopics = topicsCfgMaxTopics
	}
	if cmd.Flags().Changed("cooldown-seconds") {
		existing.CooldownSeconds = topicsCfgCooldownSeconds
	}
	if cmd.Flags().Changed("general-topic-title") {
		existing.GeneralTopicTitle = topicsCfgGeneralTitle
	}
	if cmd.Flags().Changed("enable-classification") {
		existing.EnableClassification = topicsCfgEnableClassify
	}
	if cmd.Flags().Changed("auto-cleanup") {
		existing.AutoCleanup = topicsCfgAutoCleanup
	}
	existing.EnableStats = true

	return a.Store.UpsertOrgConfig(ctx, existing)
}

func runTopicsCleanup(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	channelID, err := parseChannelID(topicsChannel)
	if err != nil {
		return err
	}

	a := app.New()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop()

	rows, err := a.Store.ListTopics(ctx, channelID)
	if err != nil {
		return err
	}
	cleaned := 0
	for _, t := range rows {
		if t.MessageCount == 0 {
			if err := a.Store.DeactivateTopic(ctx, channelID, t.TopicID); err != nil {
				return err
			}
			cleaned++
		}
	}
	pr.Printf("deactivated %d empty topics in channel %d\n", cleaned, channelID)
	return nil
}
