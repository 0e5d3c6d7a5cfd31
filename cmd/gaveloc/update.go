package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gaveloc/launcher/internal/events"
	"github.com/gaveloc/launcher/internal/patching"
	"github.com/gaveloc/launcher/internal/preflight"
	"github.com/gaveloc/launcher/internal/worker"
)

var updateAccount string

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply pending patches",
	Long: `Apply pending boot patches, or game patches when --account is given.
The game must not be running and the disk must have enough headroom.`,
	Run: func(cmd *cobra.Command, args []string) {
		runUpdate()
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateAccount, "account", "", "account id whose session patches the game")
}

func runUpdate() {
	cfg := loadConfig()

	pf := preflight.Run(context.Background(), preflight.OptionsFromConfig(cfg))
	for _, c := range pf.Checks {
		if !c.Passed {
			fmt.Fprintf(os.Stderr, "Pre-flight check %s failed: %s\n", c.Name, c.Message)
		}
	}
	if !pf.OK {
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := connect(ctx, cfg)
	if err != nil {
		fatal("%v", err)
	}
	defer s.close()

	// Subscribe before starting so no completion event is missed.
	sub := s.hub.Subscribe()
	defer sub.Cancel()

	if updateAccount != "" {
		err = s.patcher.StartGame(ctx, updateAccount)
	} else {
		err = s.patcher.StartBoot(ctx)
	}
	if err != nil {
		fatal("Cannot start patching: %v", err)
	}

	// Ctrl-C asks the daemon to cancel; a second one quits outright.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nCancelling...")
		if !s.patcher.CanCancel() {
			fmt.Fprintln(os.Stderr, "Patch application cannot be interrupted, waiting for it to finish")
			<-sigChan
			os.Exit(130)
		}
		s.patcher.Cancel(context.Background())
		<-sigChan
		os.Exit(130)
	}()

	final, applied := watchPatchRun(s, sub)
	fmt.Println()

	switch final.Phase {
	case worker.PhaseIdle:
		fmt.Printf("Patching complete, %d patches applied.\n", applied)
	case worker.PhaseCancelled:
		fmt.Println("Patching cancelled.")
		os.Exit(1)
	case worker.PhaseFailed:
		if final.Recoverable {
			fatal("Patching failed: %s (retry may succeed)", final.LastError)
		}
		fatal("Patching failed: %s", final.LastError)
	default:
		fatal("Patching ended in unexpected phase %s", final.Phase)
	}
}

// watchPatchRun renders progress until the run leaves its running phases.
// It counts completed patches on its own subscription because a fully
// successful run resets the orchestrator before we read the final state.
func watchPatchRun(s *session, sub *events.Subscription) (patching.Snapshot, int) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	applied := 0
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return s.patcher.Snapshot(), applied
			}
			if _, isCompleted := ev.(worker.PatchCompletedEvent); isCompleted {
				applied++
			}
		case <-ticker.C:
			snap := s.patcher.Snapshot()
			if !snap.Phase.Running() {
				return snap, applied
			}
			renderPatchProgress(snap)
		}
	}
}

func renderPatchProgress(snap patching.Snapshot) {
	line := fmt.Sprintf("%-12s", snap.Phase)
	if snap.TotalPatches > 0 {
		line += fmt.Sprintf(" patch %d/%d", snap.CurrentIndex+1, snap.TotalPatches)
	}
	if snap.VersionID != "" {
		line += " " + snap.VersionID
	}
	if snap.BytesTotal > 0 {
		line += fmt.Sprintf("  %s / %s (%.0f%%)",
			humanize.IBytes(snap.BytesProcessed),
			humanize.IBytes(snap.BytesTotal),
			snap.Percent)
	}
	if snap.SpeedBytesPerSec > 0 {
		line += fmt.Sprintf("  %s/s", humanize.IBytes(uint64(snap.SpeedBytesPerSec)))
	}
	fmt.Printf("\r\033[K%s", line)
}
