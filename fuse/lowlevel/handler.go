package lowlevel

import (
	"os"
	"sync"

	"go.uber.org/atomic"
)

// handle is either an open regular-file descriptor or an open
// directory cursor, never both, keyed by the kernel-visible file
// handle number.
type handle struct {
	file *os.File
	dir  *dirCursor

	id uint64
}

// handlerMap allocates and tracks open handles: a mutex-guarded map
// plus an atomic counter so concurrent opens never race on handle
// numbers.
type handlerMap struct {
	m    map[uint64]*handle
	l    sync.Mutex
	free *atomic.Uint64
}

func newHandlerMap() *handlerMap {
	return &handlerMap{
		m:    make(map[uint64]*handle),
		free: atomic.NewUint64(0),
	}
}

func (m *handlerMap) newFile(f *os.File) *handle {
	h := &handle{file: f}
	m.set(h)
	return h
}

func (m *handlerMap) newDir(d *dirCursor) *handle {
	h := &handle{dir: d}
	m.set(h)
	return h
}

func (m *handlerMap) set(h *handle) uint64 {
	m.l.Lock()
	defer m.l.Unlock()

	h.id = m.free.Inc()
	m.m[h.id] = h
	return h.id
}

func (m *handlerMap) get(fh uint64) (*handle, bool) {
	m.l.Lock()
	defer m.l.Unlock()

	h, ok := m.m[fh]
	return h, ok
}

func (m *handlerMap) del(fh uint64) (*handle, bool) {
	m.l.Lock()
	defer m.l.Unlock()

	h, ok := m.m[fh]
	if ok {
		delete(m.m, fh)
	}
	return h, ok
}
