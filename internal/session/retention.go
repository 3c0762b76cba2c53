// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rapidaai/recorder/pkg/commons"
)

// SweepOldRecordings removes session directories under root whose encoded
// start time is older than the retention window. Directories whose names do
// not parse as session timestamps are left alone.
func SweepOldRecordings(logger commons.Logger, root string, olderThan time.Duration) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("retention sweep: reading %s: %v", root, err)
		}
		return
	}
	cutoff := time.Now().Add(-olderThan)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		started, err := time.ParseInLocation("20060102-150405", entry.Name(), time.Local)
		if err != nil {
			continue
		}
		if started.After(cutoff) {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			logger.Warnf("retention sweep: removing %s: %v", dir, err)
			continue
		}
		logger.Infof("retention sweep: removed %s (started %s)", dir, started.Format(time.RFC3339))
	}
}
