// Package preflight runs the checks that gate patch and repair runs:
// the game must not be running, the disk must have headroom, and the
// installation must look like one before anything touches it.
package preflight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/gaveloc/launcher/internal/config"
	"github.com/gaveloc/launcher/internal/logging"
	"github.com/gaveloc/launcher/internal/versions"
)

// Options configures which pre-flight checks to run.
type Options struct {
	GamePath         string
	GameProcessNames []string
	MinFreeDiskGB    float64
	CheckInstall     bool
}

// OptionsFromConfig builds Options from config fields.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		GamePath:         cfg.GamePath,
		GameProcessNames: cfg.GameProcessNames,
		MinFreeDiskGB:    cfg.MinFreeDiskGB,
		CheckInstall:     true,
	}
}

// Check is one individual check result.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// Result captures the outcome of all pre-flight checks.
type Result struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks"`
}

// Run executes every enabled check. The result's OK is the conjunction
// of all checks; individual failures carry their own messages.
func Run(ctx context.Context, opts Options) Result {
	log := logging.L("preflight")
	result := Result{OK: true}

	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.OK = false
			log.Warn("pre-flight check failed", "check", c.Name, "message", c.Message)
		} else {
			log.Debug("pre-flight check passed", "check", c.Name)
		}
	}

	add(checkGameNotRunning(ctx, opts.GameProcessNames, log))

	if opts.MinFreeDiskGB > 0 {
		add(checkDiskSpace(ctx, opts.GamePath, opts.MinFreeDiskGB))
	}
	if opts.CheckInstall {
		add(checkInstall(opts.GamePath))
	}
	return result
}

// checkGameNotRunning fails when any of the game's executables has a
// live process. Patching files the game has open corrupts both.
func checkGameNotRunning(ctx context.Context, names []string, log *slog.Logger) Check {
	const name = "game_not_running"

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = struct{}{}
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		// Enumeration failing is not proof the game is down, but blocking
		// every run on a transient proc read would be worse. Warn and pass.
		log.Warn("process enumeration failed", logging.KeyError, err)
		return Check{Name: name, Passed: true, Message: "process list unavailable, skipped"}
	}

	for _, p := range procs {
		procName, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if _, hit := wanted[strings.ToLower(procName)]; hit {
			return Check{
				Name:    name,
				Passed:  false,
				Message: fmt.Sprintf("game process %s is running (pid %d)", procName, p.Pid),
			}
		}
	}
	return Check{Name: name, Passed: true, Message: "no game process found"}
}

func checkDiskSpace(ctx context.Context, path string, minFreeGB float64) Check {
	const name = "disk_space"

	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Check{Name: name, Passed: false, Message: fmt.Sprintf("cannot stat %s: %v", path, err)}
	}

	freeGB := float64(usage.Free) / (1 << 30)
	if freeGB < minFreeGB {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("%.1f GB free, need at least %.1f GB", freeGB, minFreeGB),
		}
	}
	return Check{Name: name, Passed: true, Message: fmt.Sprintf("%.1f GB free", freeGB)}
}

func checkInstall(path string) Check {
	const name = "install_valid"

	if err := versions.NewStore(path).ValidateInstall(); err != nil {
		return Check{Name: name, Passed: false, Message: err.Error()}
	}
	return Check{Name: name, Passed: true, Message: "version files present"}
}
