// Command merklefs mounts a content-addressed, read-only tree
// described by a metadata document, backed by a local blob pool and a
// remote fetcher for blobs the pool doesn't yet have.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	lowlevel "github.com/merklefs/merklefs/fuse/lowlevel"
	"github.com/merklefs/merklefs/internal/config"
	"github.com/merklefs/merklefs/internal/fetcher"
	"github.com/merklefs/merklefs/internal/meta"
	"github.com/merklefs/merklefs/internal/pool"
	"github.com/merklefs/merklefs/internal/rlimit"
)

const usage = "usage: merklefs [options] <metadata-path> <mountpoint>"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		debug            = pflag.Bool("debug", false, "enable filesystem debug messages")
		debugFuse        = pflag.Bool("debug-fuse", false, "enable go-fuse protocol debug messages")
		nocache          = pflag.Bool("nocache", false, "disable all caching")
		nosplice         = pflag.Bool("nosplice", false, "do not use splice(2) to transfer data")
		single           = pflag.Bool("single", false, "run single-threaded")
		configPath       = pflag.String("config", config.DefaultPath, "path to the mount configuration file")
		verifySampleRate = pflag.Float64("verify-sample-rate", -1, "override verify_sample_rate from the config file")
		mountOpts        = pflag.StringArray("o", nil, "FUSE mount option (repeatable)")
		help             = pflag.BoolP("help", "h", false, "print this help message")
	)
	pflag.Parse()

	if *help {
		fmt.Println(usage)
		pflag.PrintDefaults()
		return 0
	}
	if pflag.NArg() != 2 {
		color.Red("merklefs: expected exactly 2 arguments, got %d", pflag.NArg())
		fmt.Println(usage)
		return 2
	}
	metadataPath, mountPoint := pflag.Arg(0), pflag.Arg(1)

	logger := newLogger(*debug)
	defer logger.Sync()

	rlimit.MaximizeNoFile(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		color.Red("merklefs: %v", err)
		return 1
	}
	if *verifySampleRate >= 0 {
		cfg.VerifySampleRate = *verifySampleRate
	}
	if *nocache {
		cfg.CacheTimeout = 0
	}

	tree, err := loadMetadata(metadataPath)
	if err != nil {
		color.Red("merklefs: reading metadata: %v", err)
		return 1
	}

	client := fetcher.NewSocketClient(cfg.Fetcher)

	poolOpts := []pool.Option{pool.WithLogger(logger)}
	if cfg.NegativeCacheTTL > 0 {
		neg, err := pool.OpenNegativeCache(cfg.NegativeCacheDir())
		if err != nil {
			color.Red("merklefs: opening negative fetch cache: %v", err)
			return 1
		}
		defer neg.Close()
		poolOpts = append(poolOpts, pool.WithNegativeCache(neg, cfg.NegativeCacheTTL))
	}
	if cfg.VerifySampleRate > 0 {
		poolOpts = append(poolOpts, pool.WithVerifySampleRate(cfg.VerifySampleRate))
	}
	blobs := pool.New(cfg.Pool, client, poolOpts...)

	tree.Mount()

	srv, err := lowlevel.New(&lowlevel.Config{
		Meta:           tree,
		Pool:           blobs,
		MountPoint:     mountPoint,
		CacheTimeout:   cfg.CacheTimeout,
		NoSplice:       *nosplice,
		Debug:          *debug,
		DebugFUSE:      *debugFuse,
		SingleThreaded: *single,
		Options:        *mountOpts,
		UID:            1000,
		GID:            1000,
		Logger:         logger,
	})
	if err != nil {
		color.Red("merklefs: mounting %s: %v", mountPoint, err)
		return 3
	}

	logger.Info("mounted", zap.String("mountpoint", mountPoint), zap.String("metadata", metadataPath))
	srv.Serve()
	return 0
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}

func loadMetadata(path string) (*meta.FileSystem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree := &meta.FileSystem{}
	if err := json.Unmarshal(data, tree); err != nil {
		return nil, err
	}
	return tree, nil
}
