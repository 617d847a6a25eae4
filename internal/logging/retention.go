package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget selects files in Dir whose names match Pattern. Paths in
// Exclude are never removed, typically the log of the current run.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs removes run logs last modified more than retentionDays ago
// and returns how many were removed. retentionDays <= 0 keeps everything.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	removed := 0
	for _, target := range targets {
		removed += pruneTarget(logger, target, cutoff)
	}
	if removed > 0 {
		logger.Info("old run logs pruned",
			Int("removed", removed),
			Int("retention_days", retentionDays),
			String(FieldEventType, "log_retention"),
		)
	}
	return removed
}

func pruneTarget(logger *slog.Logger, target RetentionTarget, cutoff time.Time) int {
	dir := strings.TrimSpace(target.Dir)
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	keep := absPaths(target.Exclude)
	pattern := strings.TrimSpace(target.Pattern)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if pattern != "" {
			if ok, err := filepath.Match(pattern, entry.Name()); err != nil || !ok {
				continue
			}
		}
		path := absPath(filepath.Join(dir, entry.Name()))
		if _, excluded := keep[path]; excluded {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "run log not pruned", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check permissions of the data/logs directory"),
			)
			continue
		}
		logger.Debug("run log pruned", String("path", path))
		removed++
	}
	return removed
}

func absPaths(paths []string) map[string]struct{} {
	out := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out[absPath(p)] = struct{}{}
		}
	}
	return out
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
