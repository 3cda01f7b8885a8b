package mauzr

import (
	"sync"
)

// maxPooledBuffer is the largest buffer kept for reuse.
const maxPooledBuffer = 65536

// remainingPool holds the buffers DecodePacket reads packet bodies into.
// Packet decoders copy what they keep, so a buffer is free again as soon as
// the packet is decoded.
var remainingPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 512)
		return &b
	},
}

// getRemaining returns a pooled buffer of length n.
func getRemaining(n int) *[]byte {
	b := remainingPool.Get().(*[]byte)
	if cap(*b) < n {
		*b = make([]byte, n)
	}
	*b = (*b)[:n]
	return b
}

// putRemaining returns a buffer to the pool.
func putRemaining(b *[]byte) {
	if b == nil || cap(*b) > maxPooledBuffer {
		return
	}
	*b = (*b)[:0]
	remainingPool.Put(b)
}
