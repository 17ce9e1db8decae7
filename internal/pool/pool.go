// Package pool adapts the content-addressed blob directory to open(2):
// given a hash, open the backing file, lazily fetching it through a
// remote endpoint on a miss, with fetch coalescing and a negative-fetch
// cache layered on top of the base contract.
package pool

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/merklefs/merklefs/internal/fetcher"
)

// noFollow is the flag bit stripped from the kernel's requested open
// flags before the pool adapter opens a blob: the pool layout is
// trusted not to contain symlinks, and some filesystems reject the
// flag outright.
const noFollow = syscall.O_NOFOLLOW

// Pool opens content-addressed blobs, fetching missing ones on demand.
type Pool struct {
	dir    string
	fetch  fetcher.Client
	group  singleflight.Group
	neg    *NegativeCache
	negTTL time.Duration
	verify float64
	rand   *rand.Rand
	randMu sync.Mutex
	log    *zap.Logger
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithNegativeCache attaches a negative-fetch cache and its TTL. A nil
// cache disables the negative-cache short-circuit; a zero ttl stops new
// records from being written, while unexpired records already in the
// cache still short-circuit the fetch.
func WithNegativeCache(cache *NegativeCache, ttl time.Duration) Option {
	return func(p *Pool) {
		p.neg = cache
		p.negTTL = ttl
	}
}

// WithVerifySampleRate enables the blake3 integrity spot-check on the
// given fraction, in [0,1], of successful opens.
func WithVerifySampleRate(rate float64) Option {
	return func(p *Pool) { p.verify = rate }
}

// WithLogger attaches a logger; the zero value is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pool) { p.log = log }
}

// New returns a Pool rooted at dir, fetching misses through client.
func New(dir string, client fetcher.Client, opts ...Option) *Pool {
	p := &Pool{
		dir:   dir,
		fetch: client,
		rand:  rand.New(rand.NewSource(1)),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// path returns the on-disk path for a content hash.
func (p *Pool) path(hash string) string {
	return filepath.Join(p.dir, hash)
}

// Open opens the blob for hash, translating the kernel's requested
// flags (stripping O_NOFOLLOW) and, on a first failure, consulting the
// fetcher exactly once before retrying. A negative-cache hit skips the
// fetcher call and fails immediately.
func (p *Pool) Open(ctx context.Context, hash string, flags int) (*os.File, error) {
	flags &^= noFollow

	f, err := os.OpenFile(p.path(hash), flags, 0)
	if err == nil {
		p.maybeVerify(hash, f)
		return f, nil
	}

	if p.neg != nil {
		if hit, cerr := p.neg.Recall(hash); cerr == nil && hit {
			p.log.Debug("pool: negative cache hit", zap.String("hash", hash))
			return nil, err
		}
	}

	if ok := p.fetchCoalesced(ctx, hash); !ok {
		if p.neg != nil {
			p.neg.Remember(hash, p.negTTL)
		}
		return nil, err
	}
	if p.neg != nil {
		p.neg.Forget(hash)
	}

	f, err = os.OpenFile(p.path(hash), flags, 0)
	if err != nil {
		return nil, err
	}
	p.maybeVerify(hash, f)
	return f, nil
}

// fetchCoalesced issues (or joins an in-flight) fetcher RPC for hash.
// Concurrent misses on the same hash observe one RPC, not one each. A
// caller-supplied context with its own deadline is honored as-is;
// otherwise the call is bounded by FetchWithDefaultTimeout so a stuck
// remote endpoint can't hang an open(2) indefinitely.
func (p *Pool) fetchCoalesced(ctx context.Context, hash string) bool {
	v, err, shared := p.group.Do(hash, func() (interface{}, error) {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			return fetcher.FetchWithDefaultTimeout(p.fetch, hash)
		}
		return p.fetch.Fetch(ctx, hash)
	})
	if shared {
		p.log.Debug("pool: joined in-flight fetch", zap.String("hash", hash))
	}
	if err != nil {
		p.log.Debug("pool: fetch failed", zap.String("hash", hash), zap.Error(err))
		return false
	}
	ok, _ := v.(bool)
	return ok
}

// maybeVerify recomputes f's blake3 digest against hash on a sampled
// fraction of opens, logging a warning on mismatch. It never fails the
// open: by the time a blob is served the pool is trusted, per the base
// contract; this only surfaces corruption for an operator to notice.
func (p *Pool) maybeVerify(hash string, f *os.File) {
	if p.verify <= 0 {
		return
	}
	p.randMu.Lock()
	roll := p.rand.Float64()
	p.randMu.Unlock()
	if roll >= p.verify {
		return
	}
	if err := Verify(f, hash); err != nil {
		p.log.Warn("pool: integrity spot-check failed",
			zap.String("hash", hash), zap.Error(err))
	}
}

// errMismatch is returned by Verify when a blob's content doesn't hash
// to its filename.
type errMismatch struct {
	want, got string
}

func (e *errMismatch) Error() string {
	return fmt.Sprintf("pool: content hash mismatch: filename %s, computed %s", e.want, e.got)
}
