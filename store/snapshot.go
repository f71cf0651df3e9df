package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/errors"
)

// loadSnapshot reads the alert history from disk. A missing file is an empty
// history. A file that fails to decode is moved aside to <path>.corrupt so
// the monitor starts with an empty history instead of refusing to run.
func loadSnapshot(path string, logger *slog.Logger) ([]alert.Alert, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "loadSnapshot", fmt.Sprintf("read snapshot %s", path))
	}

	var alerts []alert.Alert
	if err := json.Unmarshal(data, &alerts); err != nil {
		corrupt := path + ".corrupt"
		if renameErr := os.Rename(path, corrupt); renameErr != nil {
			logger.Error("could not move corrupted snapshot aside",
				"path", path, "error", renameErr)
		}
		logger.Error("snapshot corrupted, starting with empty history",
			"path", path, "moved_to", corrupt,
			"error", errors.Wrap(err, "Store", "loadSnapshot", "decode snapshot"))
		return nil, nil
	}

	return alerts, nil
}

// writeSnapshot atomically replaces the snapshot file: write to a temp file
// in the same directory, then rename over the target.
func writeSnapshot(path string, alerts []alert.Alert) error {
	data, err := json.Marshal(alerts)
	if err != nil {
		return errors.Wrap(err, "Store", "writeSnapshot", "encode alerts")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".alerts-*.json")
	if err != nil {
		return errors.Wrap(err, "Store", "writeSnapshot", fmt.Sprintf("create temp file in %s", dir))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "Store", "writeSnapshot", "write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "Store", "writeSnapshot", "close temp file")
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "Store", "writeSnapshot", "replace snapshot")
	}
	return nil
}
