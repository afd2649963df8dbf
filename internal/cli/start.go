package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/freeagent/internal/daemon"
	"github.com/harun/freeagent/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the FreeAgent daemon service",
	Long: `Start the FreeAgent daemon in the foreground.
The daemon polls Telegram for messages and stops on SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	daemon.Version = version
	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		_ = d.Stop()
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "FreeAgent %s started (providers: %s)\n", version, strings.Join(d.Status().Providers, ", "))
	d.Wait()
	return nil
}

func isRunning(pidFile string) bool {
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return false
	}
	return daemon.ProcessAlive(pid)
}
