package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/freeagent/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether the FreeAgent daemon is running and which providers it is configured with.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	pidFile := daemon.PIDFilePath(cfg.DataDir)

	if !isRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
	} else {
		pid, err := daemon.ReadPID(pidFile)
		if err != nil {
			return fmt.Errorf("failed to read PID file: %w", err)
		}
		fmt.Fprintln(out, "Status: running")
		fmt.Fprintf(out, "PID: %d\n", pid)
		if info, err := os.Stat(pidFile); err == nil {
			fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	}

	fmt.Fprintln(out, "Providers:")
	if len(cfg.Providers) == 0 {
		fmt.Fprintln(out, "  (none configured)")
	}
	for _, p := range cfg.Providers {
		marker := ""
		if p.Name == cfg.Pool.Default {
			marker = " [default]"
		}
		fmt.Fprintf(out, "  %s: %d keys%s\n", p.Name, len(p.Keys), marker)
	}

	system := "disabled"
	if cfg.Tools.System.Enabled {
		system = "enabled (" + cfg.Tools.System.WorkingDir + ")"
	}
	fmt.Fprintf(out, "System tools: %s\n", system)

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
