//go:build windows

package webgpu

import (
	"math/bits"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

const (
	// minBucketBytes is the smallest pooled allocation.
	minBucketBytes = 256
	// maxPerBucket bounds the idle buffers kept for one bucket and usage.
	maxPerBucket = 16
)

// bucketKey identifies interchangeable buffers.
type bucketKey struct {
	size  uint64
	usage wgpu.BufferUsage
}

// PoolStats reports buffer pool activity.
type PoolStats struct {
	Allocated uint64 // buffers created on the device
	Released  uint64 // buffers returned to the pool
	Hits      uint64
	Misses    uint64
	Idle      int // buffers currently held for reuse
}

// BufferPool recycles device buffers between kernel launches.
//
// Requests are rounded up to a power-of-two bucket, so a layer norm over
// the same row geometry reuses its storage on every call.
type BufferPool struct {
	device *wgpu.Device

	mu    sync.Mutex
	idle  map[bucketKey][]*wgpu.Buffer
	stats PoolStats
}

// NewBufferPool creates a new buffer pool for the given device.
func NewBufferPool(device *wgpu.Device) *BufferPool {
	return &BufferPool{
		device: device,
		idle:   make(map[bucketKey][]*wgpu.Buffer),
	}
}

// bucketSize rounds size up to the pooled allocation size.
func bucketSize(size uint64) uint64 {
	if size <= minBucketBytes {
		return minBucketBytes
	}
	return 1 << bits.Len64(size-1)
}

// Acquire returns a buffer of at least size bytes with exactly the given usage.
// The second result is the buffer's real size, which Release expects back.
func (p *BufferPool) Acquire(size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, uint64) {
	key := bucketKey{size: bucketSize(size), usage: usage}

	p.mu.Lock()
	defer p.mu.Unlock()

	if free := p.idle[key]; len(free) > 0 {
		buf := free[len(free)-1]
		p.idle[key] = free[:len(free)-1]
		p.stats.Hits++
		p.stats.Idle--
		return buf, key.size
	}

	p.stats.Misses++
	p.stats.Allocated++
	buf := p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: usage,
		Size:  key.size,
	})
	return buf, key.size
}

// Release returns a buffer obtained from Acquire.
// If the bucket is full, the buffer is released immediately.
func (p *BufferPool) Release(buf *wgpu.Buffer, size uint64, usage wgpu.BufferUsage) {
	key := bucketKey{size: size, usage: usage}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Released++
	if len(p.idle[key]) >= maxPerBucket {
		buf.Release()
		return
	}
	p.idle[key] = append(p.idle[key], buf)
	p.stats.Idle++
}

// Clear releases all pooled buffers.
// Should be called when the backend is released.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, free := range p.idle {
		for _, buf := range free {
			buf.Release()
		}
		delete(p.idle, key)
	}
	p.stats.Idle = 0
}

// Stats returns statistics about buffer pool usage.
func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
