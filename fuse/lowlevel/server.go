// Package lowlevel implements the kernel-protocol adapter: it answers
// FUSE requests against a mounted metadata tree and blob pool using
// go-fuse's low-level RawFileSystem interface, the same interface a
// zero-copy, capability-negotiating, read-only server needs.
package lowlevel

import (
	"time"

	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/merklefs/merklefs/internal/meta"
	"github.com/merklefs/merklefs/internal/pool"
)

// Config configures a mount.
type Config struct {
	Meta *meta.FileSystem
	Pool *pool.Pool

	MountPoint string

	// CacheTimeout, when positive, enables attribute/entry/readdir
	// caching. No writeback-caching capability is requested from the
	// kernel; Init only logs it as wanted.
	CacheTimeout time.Duration

	// NoSplice makes Read copy file data into the reply buffer instead
	// of handing the kernel the pool file's descriptor to splice from.
	// No splice capability is requested or withheld from the kernel.
	NoSplice bool

	// Debug logs every reply path at Debug level.
	Debug bool
	// DebugFUSE turns on go-fuse's own protocol-level debug logging.
	DebugFUSE bool

	SingleThreaded bool
	Options        []string

	UID, GID uint32

	Logger *zap.Logger
}

// New builds the kernel-protocol adapter and a fuse.Server ready to
// mount cfg.MountPoint.
func New(cfg *Config) (*fuse.Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	mountID := uuid.New()
	logger = logger.With(zap.String("mount_id", mountID.String()))

	fsys := &FS{
		meta:         cfg.Meta,
		pool:         cfg.Pool,
		handles:      newHandlerMap(),
		cacheTimeout: cfg.CacheTimeout,
		noSplice:     cfg.NoSplice,
		debug:        cfg.Debug,
		uid:          cfg.UID,
		gid:          cfg.GID,
		mountID:      mountID,
		log:          logger,
	}

	return fuse.NewServer(fsys, cfg.MountPoint, &fuse.MountOptions{
		AllowOther:     true,
		Options:        cfg.Options,
		FsName:         "merklefs",
		Name:           "merklefs",
		SingleThreaded: cfg.SingleThreaded,
		Debug:          cfg.DebugFUSE,
	})
}
