package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaveloc/launcher/internal/config"
	"github.com/gaveloc/launcher/internal/events"
	"github.com/gaveloc/launcher/internal/integrity"
	"github.com/gaveloc/launcher/internal/logging"
	"github.com/gaveloc/launcher/internal/patching"
	"github.com/gaveloc/launcher/internal/versions"
	"github.com/gaveloc/launcher/internal/worker"
)

var (
	version = "0.3.0"
	cfgFile string
	output  string
)

var rootCmd = &cobra.Command{
	Use:   "gaveloc",
	Short: "Gaveloc game launcher",
	Long:  `Gaveloc - patch, verify and repair the game installation through the patcher daemon`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print launcher and game versions",
	Run: func(cmd *cobra.Command, args []string) {
		printVersions()
	},
}

var versionSetCmd = &cobra.Command{
	Use:   "set <repository> <version>",
	Short: "Overwrite a repository's version marker",
	Long: `Overwrites the .ver marker of a repository (boot, game, ex1..ex5).
The previous marker is kept as a .bck backup. Use after restoring files
by hand, when the recorded version no longer matches the installation.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		setVersion(args[0], args[1])
	},
}

func setVersion(repoName, newVersion string) {
	cfg := loadConfig()

	repo := versions.Repository(repoName)
	known := false
	for _, r := range versions.Repositories() {
		if r == repo {
			known = true
			break
		}
	}
	if !known {
		fatal("Unknown repository %q (expected one of %v)", repoName, versions.Repositories())
	}

	if err := versions.NewStore(cfg.GamePath).Write(repo, newVersion); err != nil {
		fatal("Cannot write version marker: %v", err)
	}
	fmt.Printf("%s is now at %s\n", repo, newVersion)
}

var initGamePath string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Default()
		if initGamePath != "" {
			cfg.GamePath = initGamePath
		}

		var err error
		if cfgFile != "" {
			err = config.SaveTo(cfg, cfgFile)
		} else {
			err = config.Save(cfg)
		}
		if err != nil {
			fatal("Cannot write config: %v", err)
		}

		path := cfgFile
		if path == "" {
			path = config.Dir()
		}
		fmt.Printf("Config written to %s\n", path)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the per-user launcher.yaml)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")

	initCmd.Flags().StringVar(&initGamePath, "game-path", "", "installation root to record in the config")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(statusCmd)
	versionCmd.AddCommand(versionSetCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the configuration, and points logging
// at the configured sink.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Config error: %v\n", e)
		}
		os.Exit(1)
	}

	sink := os.Stderr
	if cfg.LogFile != "" {
		if w, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups); err == nil {
			logging.Init(cfg.LogFormat, cfg.LogLevel, w)
			return cfg
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, sink)
	return cfg
}

// session bundles everything a daemon-backed command needs.
type session struct {
	cfg       *config.Config
	hub       *events.Hub
	client    *worker.Client
	patcher   *patching.Orchestrator
	verifier  *integrity.Orchestrator
	store     *versions.Store
	stopWatch context.CancelFunc
}

// connect dials the daemon, reconciles both orchestrators against its
// authoritative state and starts the event distribution.
func connect(ctx context.Context, cfg *config.Config) (*session, error) {
	hub := events.NewHub(cfg.EventBufferSize)
	client := worker.NewClient(cfg.WorkerURL, hub)
	go client.Start()

	deadline := time.Now().Add(10 * time.Second)
	for !client.Connected() {
		if time.Now().After(deadline) {
			client.Stop()
			hub.Close()
			return nil, fmt.Errorf("patcher daemon at %s is not reachable", cfg.WorkerURL)
		}
		select {
		case <-ctx.Done():
			client.Stop()
			hub.Close()
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	store := versions.NewStore(cfg.GamePath)
	patcher := patching.New(client, func() {
		if report, err := store.Report(); err == nil {
			logging.L("main").Info("versions after patching", "report", report)
		}
	})
	verifier := integrity.New(client)

	watchCtx, stopWatch := context.WithCancel(ctx)
	go patcher.Run(watchCtx, hub.Subscribe())
	go verifier.Run(watchCtx, hub.Subscribe())

	if err := patcher.Reconcile(ctx); err != nil {
		logging.L("main").Warn("patch reconcile failed", logging.KeyError, err)
	}
	if err := verifier.Reconcile(ctx); err != nil {
		logging.L("main").Warn("integrity reconcile failed", logging.KeyError, err)
	}

	return &session{
		cfg:       cfg,
		hub:       hub,
		client:    client,
		patcher:   patcher,
		verifier:  verifier,
		store:     store,
		stopWatch: stopWatch,
	}, nil
}

func (s *session) close() {
	s.stopWatch()
	s.client.Stop()
	s.hub.Close()
}

func printVersions() {
	fmt.Printf("gaveloc v%s\n", version)

	cfg := loadConfig()
	report, err := versions.NewStore(cfg.GamePath).Report()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot read game versions: %v\n", err)
		os.Exit(1)
	}
	for _, info := range report {
		fmt.Printf("  %-6s %s\n", info.Repository, info.Version)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
