package lbot

import "sync"

// bufferPool hands out reusable byte slices for replay buffer storage
// (the plugin trace path serializes into fresh slices), sized in the same
// three size classes the teacher's websocket bridge uses for outbound
// frames: most trace payloads are small, a few (point clouds, images) are
// large, and paying for one sync.Pool per size class beats either a
// single pool (churns on size mismatch) or no pool (GC pressure under
// high publish rates).
type bufferPool struct {
	small  sync.Pool // 4KiB
	medium sync.Pool // 16KiB
	large  sync.Pool // 64KiB
}

func newBufferPool() *bufferPool {
	return &bufferPool{
		small: sync.Pool{New: func() any {
			buf := make([]byte, 0, 4096)
			return &buf
		}},
		medium: sync.Pool{New: func() any {
			buf := make([]byte, 0, 16384)
			return &buf
		}},
		large: sync.Pool{New: func() any {
			buf := make([]byte, 0, 65536)
			return &buf
		}},
	}
}

func (p *bufferPool) get(size int) *[]byte {
	var pool *sync.Pool
	switch {
	case size <= 4096:
		pool = &p.small
	case size <= 16384:
		pool = &p.medium
	default:
		pool = &p.large
	}

	buf, ok := pool.Get().(*[]byte)
	if !ok {
		fresh := make([]byte, 0, size)
		return &fresh
	}
	*buf = (*buf)[:0]
	return buf
}

func (p *bufferPool) put(buf *[]byte) {
	if buf == nil {
		return
	}

	switch size := cap(*buf); {
	case size <= 4096:
		p.small.Put(buf)
	case size <= 16384:
		p.medium.Put(buf)
	case size <= 65536:
		p.large.Put(buf)
	default:
		// Larger buffers are not pooled; let the GC reclaim them.
	}
}
