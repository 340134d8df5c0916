package pool

import "sync"

// defaultBufCap covers a worst-case encoded frame of a small payload where
// every byte needs escaping, without growing the buffer.
const defaultBufCap = 128

// maxPooledBufCap bounds the capacity of buffers kept in the pool so a single
// oversized payload does not pin memory for the life of the process.
const maxPooledBufCap = 4096

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, defaultBufCap)
		return &b
	},
}

// GetBuffer returns a zero-length byte slice from the pool.
//
// Return the buffer to the pool with PutBuffer.
func GetBuffer() *[]byte {
	b, _ := bufPool.Get().(*[]byte)
	*b = (*b)[:0]
	return b
}

// PutBuffer returns the buffer to the pool.
//
// b cannot be accessed after returning to the pool.
func PutBuffer(b *[]byte) {
	if cap(*b) > maxPooledBufCap {
		return
	}
	bufPool.Put(b)
}
