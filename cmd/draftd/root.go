package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/koinonia/draftsafe/conf"
	"github.com/koinonia/draftsafe/db"
	"github.com/koinonia/draftsafe/logger"
	"github.com/koinonia/draftsafe/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath string
	logLevel   string

	cfg = conf.Default()
	log = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:          "draftd",
	Short:        "Draft server and autosaving editor",
	Long:         `draftd keeps in-progress drafts safe: it serves them over http and edits them with autosave and local backups.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "", "json or yaml config file")
	fs.StringVar(&logLevel, "log-level", "", "log level, overrides the config")
}

// loadConfig reads defaults, then path if given, then DRAFTSAFE_*
// environment overrides.
func loadConfig(path string) (*conf.Config, error) {
	c := conf.Default()
	if len(path) > 0 {
		if err := c.FromPath(path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}
	if err := c.FromEnv(".env"); err != nil {
		return nil, err
	}
	return c, nil
}

func setup(cmd *cobra.Command) error {
	c, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if len(logLevel) > 0 {
		c.LogLevel = logLevel
	}
	cfg = c
	log = logger.NewWriter(cmd.ErrOrStderr(), cfg.LogLevel)
	db.SetLogger(log)
	return nil
}

// openServer connects to the configured database and migrates it.
func openServer() (*sqlx.DB, *server.Server, error) {
	conn, err := db.Open(cfg.DatabaseURI)
	if err != nil {
		return nil, nil, err
	}
	srv := server.New(cfg, conn, log)
	if err := srv.Migrate(); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrating: %w", err)
	}
	return conn, srv, nil
}
