package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/accesslens/accesslens/internal/config"
)

// Environment fallbacks for the persistent actor flags.
const (
	envTenant = "ACCESSLENS_TENANT"
	envActor  = "ACCESSLENS_ACTOR"
	envServer = "ACCESSLENS_SERVER"
)

var (
	cfgFile   string
	tenantID  string
	actorID   string
	serverURL string
	jsonOut   bool
)

func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "accesslens",
		Short: "Identity access risk triage",
		Long: "AccessLens scores identities and their entitlements against risk rules, " +
			"and gives reviewers an audited workflow to close the findings. Single binary.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "accesslens.yaml", "config file path")
	root.PersistentFlags().StringVar(&tenantID, "tenant", os.Getenv(envTenant), "tenant id (env "+envTenant+")")
	root.PersistentFlags().StringVar(&actorID, "actor", os.Getenv(envActor), "acting profile id (env "+envActor+")")
	root.PersistentFlags().StringVar(&serverURL, "server", os.Getenv(envServer), "talk to a running server instead of the database (env "+envServer+")")
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON even on a terminal")

	root.AddCommand(
		newServeCmd(),
		newImportCmd(),
		newRecomputeCmd(),
		newFindingsCmd(),
		newActCmd(),
		newExplainCmd(),
		newMCPCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig reads cfgFile, falling back to defaults only when the file
// does not exist. A present but broken file is an error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Defaults()
		cfg.ApplyEnv()
	} else if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func requireActor() error {
	if tenantID == "" || actorID == "" {
		return fmt.Errorf("--tenant and --actor are required (or set %s and %s)", envTenant, envActor)
	}
	return nil
}
