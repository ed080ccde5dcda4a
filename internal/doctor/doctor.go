// Package doctor implements the `mailstated doctor` connectivity checks,
// adapted from the teacher's internal/setup health-check pattern
// (CheckResult/Print) but narrowed to what this engine actually depends on:
// the store backend and the change bus, instead of a full MTA's ports, DKIM
// keys, and DNS records.
package doctor

import (
	"context"
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fenilsonani/mailstate/internal/changebus"
	"github.com/fenilsonani/mailstate/internal/config"
	"github.com/fenilsonani/mailstate/internal/store/sqlite"
)

// CheckResult represents the result of a single check.
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warn"
	Message string
	Help    string
}

// Results contains all doctor check results.
type Results struct {
	Checks  []CheckResult
	Passed  int
	Failed  int
	Warned  int
	Healthy bool
}

// Run runs every connectivity check against cfg.
func Run(ctx context.Context, cfg *config.Config) *Results {
	results := &Results{}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfigValid,
		checkStoreConnection,
		checkStoreDiskSpace,
		checkBusConnection,
	}

	for _, check := range checks {
		result := check(ctx, cfg)
		results.Checks = append(results.Checks, result)

		switch result.Status {
		case "pass":
			results.Passed++
		case "fail":
			results.Failed++
		case "warn":
			results.Warned++
		}
	}

	results.Healthy = results.Failed == 0
	return results
}

// Print renders the results to stdout.
func (r *Results) Print() {
	fmt.Println("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("                    MAILSTATE DOCTOR")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	for _, check := range r.Checks {
		icon := "✓"
		color := "\033[32m"
		if check.Status == "fail" {
			icon = "✗"
			color = "\033[31m"
		} else if check.Status == "warn" {
			icon = "!"
			color = "\033[33m"
		}
		reset := "\033[0m"

		fmt.Printf("%s%s%s %s\n", color, icon, reset, check.Name)
		if check.Message != "" {
			fmt.Printf("  %s\n", check.Message)
		}
		if check.Status == "fail" && check.Help != "" {
			fmt.Printf("  → %s\n", check.Help)
		}
		fmt.Println()
	}

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Results: %d passed, %d failed, %d warnings\n", r.Passed, r.Failed, r.Warned)

	if r.Healthy {
		fmt.Println("\033[32m✓ mailstated is healthy!\033[0m")
	} else {
		fmt.Println("\033[31m✗ mailstated has issues. Check above.\033[0m")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func checkConfigValid(_ context.Context, cfg *config.Config) CheckResult {
	if err := cfg.Validate(); err != nil {
		return CheckResult{
			Name:    "Configuration",
			Status:  "fail",
			Message: err.Error(),
			Help:    "Fix the configuration file and re-run doctor",
		}
	}
	return CheckResult{
		Name:    "Configuration",
		Status:  "pass",
		Message: fmt.Sprintf("store=%s bus=%s", cfg.Store.Driver, cfg.Bus.Driver),
	}
}

func checkStoreConnection(ctx context.Context, cfg *config.Config) CheckResult {
	switch cfg.Store.Driver {
	case "memory":
		return CheckResult{
			Name:    "Store",
			Status:  "pass",
			Message: "in-memory store requires no connection check",
		}
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return CheckResult{
				Name:    "Store",
				Status:  "fail",
				Message: "cannot open sqlite database",
				Help:    err.Error(),
			}
		}
		defer db.Close()

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.Migrate(checkCtx); err != nil {
			return CheckResult{
				Name:    "Store",
				Status:  "fail",
				Message: "cannot apply migrations",
				Help:    err.Error(),
			}
		}
		return CheckResult{
			Name:    "Store",
			Status:  "pass",
			Message: fmt.Sprintf("sqlite database at %s is reachable and migrated", cfg.Store.DSN),
		}
	default:
		return CheckResult{
			Name:    "Store",
			Status:  "fail",
			Message: "unknown store driver: " + cfg.Store.Driver,
		}
	}
}

func checkStoreDiskSpace(_ context.Context, cfg *config.Config) CheckResult {
	if cfg.Store.Driver != "sqlite" {
		return CheckResult{
			Name:    "Disk Space",
			Status:  "pass",
			Message: "not applicable for the " + cfg.Store.Driver + " driver",
		}
	}

	dir := filepath.Dir(cfg.Store.DSN)
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return CheckResult{
			Name:    "Disk Space",
			Status:  "warn",
			Message: "could not check disk space for " + dir,
		}
	}

	freeBytes := stat.Bavail * uint64(stat.Bsize)
	freeMB := freeBytes / (1024 * 1024)

	if freeMB < 100 {
		return CheckResult{
			Name:    "Disk Space",
			Status:  "fail",
			Message: fmt.Sprintf("only %d MB free at %s", freeMB, dir),
			Help:    "free up disk space near the sqlite DSN path",
		}
	}
	return CheckResult{
		Name:    "Disk Space",
		Status:  "pass",
		Message: fmt.Sprintf("%d MB free at %s", freeMB, dir),
	}
}

func checkBusConnection(ctx context.Context, cfg *config.Config) CheckResult {
	switch cfg.Bus.Driver {
	case "memory":
		return CheckResult{
			Name:    "Change Bus",
			Status:  "pass",
			Message: "in-process bus requires no connection check",
		}
	case "redis":
		bus, err := changebus.NewRedis(changebus.RedisConfig{RedisURL: cfg.Bus.RedisURL, Prefix: cfg.Bus.Prefix})
		if err != nil {
			return CheckResult{
				Name:    "Change Bus",
				Status:  "fail",
				Message: "redis not reachable at " + cfg.Bus.RedisURL,
				Help:    err.Error(),
			}
		}
		defer bus.Close()

		return CheckResult{
			Name:    "Change Bus",
			Status:  "pass",
			Message: "redis is reachable at " + cfg.Bus.RedisURL,
		}
	default:
		return CheckResult{
			Name:    "Change Bus",
			Status:  "fail",
			Message: "unknown bus driver: " + cfg.Bus.Driver,
		}
	}
}
