package audio

import "sync/atomic"

// OverflowPolicy selects what a full [Ring] does with samples that no longer
// fit.
type OverflowPolicy int

const (
	// DropNewest rejects the excess tail of the incoming write. The producer
	// stays wait-free and the consumer cursor is never touched from the
	// producer side. This is the default.
	DropNewest OverflowPolicy = iota

	// DropOldest advances the read cursor to make room, preferring fresh
	// audio over history. The consumer must tolerate its cursor jumping
	// forward between reads.
	DropOldest
)

// String returns the human-readable name of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// Ring is a fixed-capacity single-producer/single-consumer queue of float32
// samples. The producer (the hardware capture callback) only advances the
// write cursor; the consumer (the streaming client) only advances the read
// cursor. Neither side takes a lock and neither side allocates, so Write is
// safe to call from a realtime audio callback.
//
// Exactly one goroutine may call Write and exactly one goroutine may call
// Read. Dropped, Len, and Cap may be called from anywhere.
type Ring struct {
	buf  []float32
	mask uint64

	policy OverflowPolicy

	write   atomic.Uint64
	read    atomic.Uint64
	dropped atomic.Uint64
}

// NewRing creates a Ring that holds at least capacity samples. The actual
// capacity is rounded up to the next power of two so cursor arithmetic stays
// branch-free. capacity must be > 0.
func NewRing(capacity int, policy OverflowPolicy) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &Ring{
		buf:    make([]float32, size),
		mask:   size - 1,
		policy: policy,
	}
}

// Cap returns the fixed capacity in samples.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of samples currently buffered. The value is a
// snapshot and may be stale by the time it is used.
func (r *Ring) Len() int {
	return int(r.write.Load() - r.read.Load())
}

// Dropped returns the monotonically increasing count of samples discarded due
// to overflow.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }

// Write copies samples into the ring without blocking and returns the number
// of samples actually stored. When free space is insufficient, the configured
// [OverflowPolicy] decides which samples are discarded; discarded samples are
// added to the drop counter.
func (r *Ring) Write(samples []float32) int {
	n := len(samples)
	if n == 0 {
		return 0
	}

	w := r.write.Load()
	free := len(r.buf) - int(w-r.read.Load())

	if n > free {
		switch r.policy {
		case DropOldest:
			// Advance the read cursor past the deficit. CAS because the
			// consumer may be advancing it concurrently; on a lost race the
			// consumer freed space itself, so recompute and retry.
			for {
				rd := r.read.Load()
				free = len(r.buf) - int(w-rd)
				if n <= free {
					break
				}
				deficit := uint64(n - free)
				if r.read.CompareAndSwap(rd, rd+deficit) {
					r.dropped.Add(deficit)
					free = n
					break
				}
			}
		default: // DropNewest
			r.dropped.Add(uint64(n - free))
			n = free
			if n == 0 {
				return 0
			}
		}
	}

	for i := 0; i < n; i++ {
		r.buf[(w+uint64(i))&r.mask] = samples[i]
	}
	r.write.Store(w + uint64(n))
	return n
}

// Read copies up to len(dst) buffered samples into dst and returns the number
// copied, possibly zero. It never blocks waiting for the producer.
func (r *Ring) Read(dst []float32) int {
	if len(dst) == 0 {
		return 0
	}

	for {
		rd := r.read.Load()
		avail := int(r.write.Load() - rd)
		if avail == 0 {
			return 0
		}
		n := min(len(dst), avail)
		for i := 0; i < n; i++ {
			dst[i] = r.buf[(rd+uint64(i))&r.mask]
		}
		// Under DropOldest the producer may have advanced the read cursor
		// while we were copying, invalidating the samples just read. The CAS
		// detects that and retries with the fresh cursor.
		if r.read.CompareAndSwap(rd, rd+uint64(n)) {
			return n
		}
	}
}
