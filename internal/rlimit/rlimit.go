// Package rlimit raises the process's open-file-descriptor limit at
// startup: a mounted tree holds one pool descriptor per open file,
// which can be far more than the default soft limit allows for.
package rlimit

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// MaximizeNoFile raises RLIMIT_NOFILE's soft limit to the hard limit. A
// failure to read or raise the limit is logged as a warning, not fatal
// — the process simply keeps whatever limit it started with.
func MaximizeNoFile(log *zap.Logger) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		log.Warn("rlimit: getrlimit(RLIMIT_NOFILE) failed", zap.Error(err))
		return
	}

	before := lim.Cur
	lim.Cur = lim.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		log.Warn("rlimit: setrlimit(RLIMIT_NOFILE) failed", zap.Error(err))
		return
	}

	log.Info("rlimit: raised RLIMIT_NOFILE",
		zap.Uint64("before", before), zap.Uint64("after", lim.Cur))
}

// Current returns the process's current RLIMIT_NOFILE soft and hard
// limits, for diagnostics and tests.
func Current() (soft, hard uint64, err error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, 0, fmt.Errorf("rlimit: getrlimit: %w", err)
	}
	return lim.Cur, lim.Max, nil
}
