package transport

import "sync"

const DefaultReadBufferSize = 64 << 10

// Allocator hands out the scratch buffers channels read into. Scratch
// buffers are pooled, the bytes passed down the pipeline are a right-sized
// copy so handlers can keep them.
type Allocator struct {
	size int
	pool sync.Pool
}

func NewAllocator(readBufferSize int) *Allocator {
	if readBufferSize < 1 {
		readBufferSize = DefaultReadBufferSize
	}

	a := &Allocator{size: readBufferSize}
	a.pool.New = func() interface{} {
		buf := make([]byte, a.size)
		return &buf
	}

	return a
}

func (a *Allocator) scratch() *[]byte {
	return a.pool.Get().(*[]byte)
}

func (a *Allocator) release(buf *[]byte) {
	a.pool.Put(buf)
}

// Buffer returns an empty buffer with room for n bytes.
func (a *Allocator) Buffer(n int) []byte {
	return make([]byte, 0, n)
}

// Copy returns a right-sized copy of data.
func (a *Allocator) Copy(data []byte) []byte {
	return append(a.Buffer(len(data)), data...)
}
