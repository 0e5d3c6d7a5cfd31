package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/gaveloc/launcher/internal/catalog"
	"github.com/gaveloc/launcher/internal/versions"
)

var checkSessionID string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the catalog for pending patches",
	Long: `Checks the boot component against the patch catalog. With --session,
also registers the login session and lists pending game patches.`,
	Run: func(cmd *cobra.Command, args []string) {
		runCheck()
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkSessionID, "session", "", "login session id to register for the game check")
}

func runCheck() {
	cfg := loadConfig()

	store := versions.NewStore(cfg.GamePath)
	client := catalog.NewClient(cfg.CatalogURL)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	bootVersion, err := store.Read(versions.Boot)
	if err != nil {
		fatal("Cannot read boot version: %v", err)
	}

	entries, err := client.CheckBoot(ctx, bootVersion)
	if err != nil {
		fatal("Catalog check failed: %v", err)
	}

	if len(entries) == 0 {
		fmt.Printf("Boot is up to date (%s).\n", bootVersion)
	} else {
		fmt.Printf("%d boot patches pending, %s total:\n",
			len(entries), humanize.IBytes(catalog.TotalLength(entries)))
		renderEntries(entries)
	}

	if checkSessionID == "" {
		return
	}
	checkGame(ctx, store, client)
}

// checkGame registers the login session against the current game version
// and reports which game patches are pending.
func checkGame(ctx context.Context, store *versions.Store, client *catalog.Client) {
	gameVersion, err := store.Read(versions.Game)
	if err != nil {
		fatal("Cannot read game version: %v", err)
	}

	expansions, err := installedExpansions(store)
	if err != nil {
		fatal("Cannot enumerate expansions: %v", err)
	}
	report, err := store.VersionReport(expansions)
	if err != nil {
		fatal("Cannot build version report: %v", err)
	}

	session, err := client.RegisterSession(ctx, checkSessionID, gameVersion, report)
	if err != nil {
		fatal("Session registration failed: %v", err)
	}

	if session.UniqueID != "" {
		fmt.Printf("Patch unique id: %s\n", session.UniqueID)
	}
	if len(session.Patches) == 0 {
		fmt.Printf("Game is up to date (%s).\n", gameVersion)
		return
	}

	fmt.Printf("%d game patches pending, %s total:\n",
		len(session.Patches), humanize.IBytes(catalog.TotalLength(session.Patches)))
	renderEntries(session.Patches)
}

func installedExpansions(store *versions.Store) (int, error) {
	report, err := store.Report()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, info := range report {
		if info.Repository.Expansion() {
			n++
		}
	}
	return n, nil
}

func renderEntries(entries []catalog.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"#", "Version", "Size"})
	for i, e := range entries {
		t.AppendRow(table.Row{i + 1, e.VersionID, humanize.IBytes(e.Length)})
	}
	t.Render()
}
