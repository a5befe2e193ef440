package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Davincible/plexus/internal/process"
	"github.com/Davincible/plexus/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long:  `Start the Plexus gateway in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")
	setupLogging(verbose, logFile)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		logger.Warn("no configuration file loaded, starting with defaults", "error", err)
	} else {
		logger.Info("starting gateway",
			"host", cfg.Host,
			"port", cfg.Port,
			"providers", len(cfg.Providers),
		)
	}

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv, err := server.New(cfgMgr, logger)
	if err != nil {
		return err
	}

	return srv.Start()
}
