package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Davincible/plexus/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the gateway",
	Long:  `Stop the running Plexus gateway.`,
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, _ []string) error {
	logger.Info("stopping gateway")

	procMgr := process.NewManager(baseDir)

	if !procMgr.IsRunning() {
		logger.Warn("gateway is not running")
		return nil
	}

	if err := procMgr.Stop(); err != nil {
		return err
	}

	logger.Info("gateway stopped")
	return nil
}
