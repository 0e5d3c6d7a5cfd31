package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/gaveloc/launcher/internal/integrity"
	"github.com/gaveloc/launcher/internal/worker"
)

var repairAfterVerify bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the installation's file integrity",
	Run: func(cmd *cobra.Command, args []string) {
		runVerify(repairAfterVerify)
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Verify the installation and repair every repairable file",
	Long: `Verify the installation and delete every mismatched or missing file
so the next update run restores it. Unreadable files are reported but
left alone.`,
	Run: func(cmd *cobra.Command, args []string) {
		runVerify(true)
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&repairAfterVerify, "repair", false, "repair repairable problems after verifying")
}

func runVerify(repair bool) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := connect(ctx, cfg)
	if err != nil {
		fatal("%v", err)
	}
	defer s.close()

	if err := s.verifier.StartVerify(ctx); err != nil {
		fatal("Cannot start verification: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nCancelling...")
		s.verifier.CancelVerify(context.Background())
		<-sigChan
		os.Exit(130)
	}()

	final := watchVerifyRun(s.verifier)
	fmt.Println()

	switch final.State {
	case integrity.StateIdle:
		fmt.Println("Verification cancelled.")
		os.Exit(1)
	case integrity.StateError:
		fatal("Verification failed: %s", final.LastError)
	case integrity.StateResultAvailable:
	default:
		fatal("Verification ended in unexpected state %s", final.State)
	}

	result := final.Result
	fmt.Printf("Checked %d files: %d valid, %d problems.\n",
		result.TotalFiles, result.ValidCount, len(result.Problems))

	if len(result.Problems) == 0 {
		return
	}

	printProblems(result.Problems)

	repairable := integrity.RepairableCount(result)
	if !repair {
		if repairable > 0 {
			fmt.Printf("\n%d of these can be repaired with 'gaveloc repair'.\n", repairable)
		}
		os.Exit(1)
	}

	if repairable == 0 {
		fmt.Println("\nNothing repairable: unreadable files need manual attention.")
		os.Exit(1)
	}

	fmt.Printf("\nRepairing %d files...\n", repairable)
	repairResult, err := s.verifier.Repair(ctx)
	if err != nil {
		fatal("Repair failed: %v", err)
	}

	fmt.Printf("Repair finished: %d removed, %d failed.\n",
		repairResult.SuccessCount, repairResult.FailureCount)
	if repairResult.FailureCount > 0 {
		os.Exit(1)
	}
	fmt.Println("Run 'gaveloc update' to restore the removed files.")
}

func watchVerifyRun(v *integrity.Orchestrator) integrity.Snapshot {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		snap := v.Snapshot()
		if snap.State != integrity.StateChecking {
			return snap
		}
		renderVerifyProgress(snap.Progress)
	}
	return v.Snapshot()
}

func renderVerifyProgress(p integrity.Progress) {
	line := fmt.Sprintf("Checking %d/%d files", p.FilesChecked, p.TotalFiles)
	if p.TotalBytes > 0 {
		line += fmt.Sprintf("  %s / %s (%.0f%%)",
			humanize.IBytes(p.BytesProcessed), humanize.IBytes(p.TotalBytes), p.Percent)
	}
	if p.CurrentFile != "" {
		line += "  " + p.CurrentFile
	}
	fmt.Printf("\r\033[K%s", line)
}

func printProblems(problems []worker.ProblemEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"File", "Problem", "Repairable"})
	for _, p := range problems {
		repairable := "yes"
		if p.Status == worker.StatusUnreadable {
			repairable = "no"
		}
		t.AppendRow(table.Row{p.RelativePath, p.Status, repairable})
	}
	t.Render()
}
