// Package bufpool provides sized, reusable byte-slice scratch buffers for
// the base64 decode step of chunked-message reassembly
// (internal/flbridge/chunking).
package bufpool

import "sync"

// sizeClasses are chosen around the decoded-payload sizes the Chunk
// Assembler actually produces: a single wire.DefaultMaxPayloadPerFrame
// (1800 bytes base64) decodes to roughly 1350 bytes; most multi-frame
// command/response envelopes (a handful of resolved ParameterRecords, a
// render artifact event) decode well under 16 KiB; a large plugins.discover
// response carrying hundreds of named parameters can run into six figures
// of decoded JSON. Requests above the top class fall back to a fresh,
// unpooled allocation (chunking.DefaultMaxAccumulatorBytes bounds how large
// that can get).
var sizeClasses = []int{2048, 16384, 131072}

type classPool struct {
	size int
	pool *sync.Pool
}

// Pool provides sized byte slices backed by reusable buffers to reduce GC churn.
type Pool struct {
	pools []classPool
}

var defaultPool = New()

// Get acquires a buffer from the package-level default pool.
func Get(size int) []byte {
	return defaultPool.Get(size)
}

// Put releases a buffer back to the package-level default pool.
func Put(buf []byte) {
	defaultPool.Put(buf)
}

// New creates a buffer pool sized for the reassembler's base64 decode
// scratch space.
func New() *Pool {
	pools := make([]classPool, len(sizeClasses))
	for i, classSize := range sizeClasses {
		size := classSize
		pools[i] = classPool{
			size: size,
			pool: &sync.Pool{
				New: func() any {
					return make([]byte, size)
				},
			},
		}
	}
	return &Pool{pools: pools}
}

// Get returns a byte slice whose length matches the requested size and whose capacity is the
// nearest predefined size class that can accommodate the request. Requests larger than the
// maximum size class allocate a fresh slice without pooling.
func (p *Pool) Get(size int) []byte {
	if p == nil || size <= 0 {
		return nil
	}

	for i := range p.pools {
		class := &p.pools[i]
		if size <= class.size {
			buf := class.pool.Get().([]byte)
			return buf[:size]
		}
	}

	return make([]byte, size)
}

// Put returns the provided buffer to the pool if its capacity matches a predefined size class.
// Buffers that do not match any class are discarded. The buffer is zeroed before reuse to avoid
// leaking data across callers.
func (p *Pool) Put(buf []byte) {
	if p == nil || buf == nil {
		return
	}

	capBuf := cap(buf)
	for i := range p.pools {
		class := &p.pools[i]
		if capBuf == class.size {
			full := buf[:class.size]
			clear(full)
			class.pool.Put(full)
			return
		}
	}
}
