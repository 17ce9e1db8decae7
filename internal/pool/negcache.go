package pool

import (
	"fmt"
	"time"

	"github.com/Xuanwo/go-bufferpool"
	badger "github.com/dgraph-io/badger/v3"
)

var (
	keyBufs      = bufferpool.New(64)
	negKeyPrefix = []byte("neg:")
)

// negativeKey builds the badger key for hash: a fixed prefix plus the
// raw identifier, assembled in a pooled buffer. The returned key is a
// fresh copy, so each call still allocates it.
func negativeKey(hash string) []byte {
	buf := keyBufs.Get()
	defer buf.Free()

	buf.AppendBytes(negKeyPrefix)
	buf.AppendBytes([]byte(hash))

	return buf.BytesCopy()
}

// NegativeCache remembers, for a bounded time, which content hashes the
// fetcher has recently failed to materialise, so a storm of opens
// against a genuinely missing blob doesn't turn into a storm of
// identical RPCs.
type NegativeCache struct {
	db *badger.DB
}

// OpenNegativeCache opens (creating if absent) a badger database at
// dir to back the negative-fetch cache.
func OpenNegativeCache(dir string) (*NegativeCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("pool: open negative cache at %s: %w", dir, err)
	}
	return &NegativeCache{db: db}, nil
}

// Close releases the underlying database.
func (c *NegativeCache) Close() error {
	return c.db.Close()
}

// Remember records that hash could not be fetched, expiring the record
// after ttl. ttl <= 0 makes Remember a no-op; records already stored
// are left as they are and Recall still reports them until they expire.
func (c *NegativeCache) Remember(hash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(negativeKey(hash), nil).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Recall reports whether hash currently carries an unexpired negative
// record.
func (c *NegativeCache) Recall(hash string) (bool, error) {
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(negativeKey(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("pool: negative cache lookup for %s: %w", hash, err)
	}
	return found, nil
}

// Forget clears any negative record for hash, used after a fetch
// succeeds so a subsequent transient failure doesn't inherit a stale
// verdict.
func (c *NegativeCache) Forget(hash string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(negativeKey(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}
