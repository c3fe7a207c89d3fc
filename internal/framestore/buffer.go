package framestore

// growthFactor is applied to the requested length when a buffer has to grow,
// so a stream of slowly increasing frame sizes does not reallocate every frame.
const growthFactor = 2

// Buffer is a reusable byte buffer whose capacity only ever grows.
// It is not safe for concurrent use; each slot and each consumer owns its own.
type Buffer struct {
	data  []byte
	n     int
	grows int
}

// NewBuffer returns a buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Bytes returns the valid portion of the buffer. The slice aliases the
// buffer and is only valid until the next write into it.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// Len returns the number of valid bytes.
func (b *Buffer) Len() int {
	return b.n
}

// Cap returns the allocated capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Grows returns how many times the buffer has been reallocated.
func (b *Buffer) Grows() int {
	return b.grows
}

// Release drops the backing array. The buffer can be reused afterwards and
// will allocate again on the next write.
func (b *Buffer) Release() {
	b.data = nil
	b.n = 0
}

// ensure makes room for n bytes, reallocating to growthFactor*n when the
// current capacity is too small. Contents are not preserved.
func (b *Buffer) ensure(n int, alloc Allocator) error {
	if n <= len(b.data) {
		return nil
	}
	data, err := alloc.Alloc(n, growthFactor*n)
	if err != nil {
		return err
	}
	b.data = data
	b.n = 0
	b.grows++
	return nil
}

// set copies p into the buffer, which must already have room for it.
func (b *Buffer) set(p []byte) {
	b.n = copy(b.data, p)
}
