// Package main — точка входа CLI SPECTRA: флаги и .env, загрузка конфигурации,
// настройка логгера, завершение по сигналу и передача управления дереву cobra-команд.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/SWORDIntel/spectra/internal/infra/config"
	"github.com/SWORDIntel/spectra/internal/infra/logger"
	"github.com/SWORDIntel/spectra/internal/infra/pr"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	flagEnvPath    string
	flagConfigPath string
)

var rootCmd = &cobra.Command{
	Use:           "spectra",
	Short:         "SPECTRA — multi-account Telegram archiving, forwarding and topic organization",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(flagEnvPath, flagConfigPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(config.Env().LogLevel())
		if err := pr.Init(); err == nil {
			// Логи уходят в буферы readline, чтобы не рвать строку приглашения при логине.
			logger.SetWriters(pr.Stdout(), pr.Stderr())
		}
		if logFile := config.Env().LogFile(); logFile != "" {
			sink := &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    50, // МиБ на файл до ротации
				MaxBackups: 5,
				MaxAge:     30, // дней
				Compress:   true,
			}
			logger.SetWriters(io.MultiWriter(pr.Stdout(), sink), io.MultiWriter(pr.Stderr(), sink))
		}
		for _, msg := range config.Env().Warnings() {
			logger.Warn(msg)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnvPath, "env", "assets/.env", "path to .env file")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "spectra_config.json", "path to the JSON configuration document")

	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(forwardCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(channelsCmd)
}

// signalContext возвращает контекст, отменяемый по Ctrl+C/SIGTERM. Вместе с
// отменой прерывается и ожидание интерактивного ввода, если логин шёл в этот момент.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		pr.InterruptReadline()
	}()
	return ctx, cancel
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "spectra: %v\n", err)
		os.Exit(1)
	}
}
