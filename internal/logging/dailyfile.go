package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	fileLayout = "2006-01-02"
	fileExt    = ".log"
)

// DefaultRetention is how long daily log files are kept.
const DefaultRetention = 3 * 24 * time.Hour

// DailyFileName returns the log file path for the calendar day of now.
func DailyFileName(dir string, now time.Time) string {
	return filepath.Join(dir, now.Format(fileLayout)+fileExt)
}

// OpenDailyFile opens (creating if needed) the log file for the day of now
// in append mode. The directory is created if it does not exist.
func OpenDailyFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(DailyFileName(dir, now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// PurgeOlderThan removes *.log files in dir whose date-named stem is more than
// retention before now. Files that cannot be handled are skipped and
// reported in the returned error; the removed paths are always returned.
func PurgeOlderThan(dir string, now time.Time, retention time.Duration) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log directory: %w", err)
	}

	var removed []string
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}

		day, err := time.ParseInLocation(fileLayout, strings.TrimSuffix(name, fileExt), now.Location())
		if err != nil {
			errs = append(errs, fmt.Errorf("log file %s: unrecognized name", name))
			continue
		}
		if now.Sub(day) <= retention {
			continue
		}

		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("remove log file %s: %w", name, err))
			continue
		}
		removed = append(removed, path)
	}

	return removed, errors.Join(errs...)
}
