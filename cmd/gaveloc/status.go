package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gaveloc/launcher/internal/catalog"
	"github.com/gaveloc/launcher/internal/health"
	"github.com/gaveloc/launcher/internal/integrity"
	"github.com/gaveloc/launcher/internal/patching"
	"github.com/gaveloc/launcher/internal/versions"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, patch and verification state",
	Run: func(cmd *cobra.Command, args []string) {
		runStatus()
	},
}

// statusReport is the structure rendered by the status command.
type statusReport struct {
	Overall  health.Status      `json:"overall" yaml:"overall"`
	Checks   []health.Check     `json:"checks" yaml:"checks"`
	Patch    patching.Snapshot  `json:"patch" yaml:"patch"`
	Verify   integrity.Snapshot `json:"verify" yaml:"verify"`
	Versions []versions.Info    `json:"versions,omitempty" yaml:"versions,omitempty"`
}

func runStatus() {
	cfg := loadConfig()
	monitor := health.NewMonitor()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := statusReport{}

	s, err := connect(ctx, cfg)
	if err != nil {
		monitor.Update(health.ComponentDaemon, health.Unhealthy, err.Error())
	} else {
		defer s.close()
		monitor.Update(health.ComponentDaemon, health.Healthy, "")
		report.Patch = s.patcher.Snapshot()
		report.Verify = s.verifier.Snapshot()
	}

	store := versions.NewStore(cfg.GamePath)
	if infos, err := store.Report(); err != nil {
		monitor.Update(health.ComponentCatalog, health.Degraded, "version files unreadable: "+err.Error())
	} else {
		report.Versions = infos
		if bootVersion, err := store.Read(versions.Boot); err == nil {
			if _, err := catalog.NewClient(cfg.CatalogURL).CheckBoot(ctx, bootVersion); err != nil {
				monitor.Update(health.ComponentCatalog, health.Unhealthy, err.Error())
			} else {
				monitor.Update(health.ComponentCatalog, health.Healthy, "")
			}
		}
	}

	report.Overall = monitor.Overall()
	report.Checks = monitor.All()

	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fatal("encode status: %v", err)
		}
	case "yaml":
		if err := yaml.NewEncoder(os.Stdout).Encode(report); err != nil {
			fatal("encode status: %v", err)
		}
	default:
		printStatusText(report)
	}

	if report.Overall == health.Unhealthy {
		os.Exit(1)
	}
}

func printStatusText(report statusReport) {
	fmt.Printf("Overall: %s\n", report.Overall)
	for _, c := range report.Checks {
		if c.Message != "" {
			fmt.Printf("  %-8s %s (%s)\n", c.Name, c.Status, c.Message)
		} else {
			fmt.Printf("  %-8s %s\n", c.Name, c.Status)
		}
	}

	fmt.Printf("\nPatch phase: %s\n", report.Patch.Phase)
	if report.Patch.LastError != "" {
		fmt.Printf("  last error: %s\n", report.Patch.LastError)
	}

	fmt.Printf("Verify state: %s\n", report.Verify.State)
	if report.Verify.Result != nil {
		fmt.Printf("  last result: %d files, %d problems\n",
			report.Verify.Result.TotalFiles, len(report.Verify.Result.Problems))
	}
	if report.Verify.LastError != "" {
		fmt.Printf("  last error: %s\n", report.Verify.LastError)
	}

	if len(report.Versions) > 0 {
		fmt.Println("\nInstalled versions:")
		for _, info := range report.Versions {
			fmt.Printf("  %-6s %s\n", info.Repository, info.Version)
		}
	}
}
