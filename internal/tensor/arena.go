package tensor

// Arena is a per-thread activation scratch pool: buffers handed out by
// Row are valid only until the next Reset, which happens at layer
// boundaries. This keeps steady-state decode free of heap allocation
// once the arena has grown to its working set size.
type Arena struct {
	bufs [][]float32
	next int

	ptrBufs [][][]float32
	ptrNext int
}

// NewArena allocates an Arena with no pre-sized buffers; they grow
// lazily on first use and are reused thereafter.
func NewArena() *Arena {
	return &Arena{}
}

// Row returns a scratch []float32 of length n. The returned slice is only
// valid until the next Reset call.
func (a *Arena) Row(n int) []float32 {
	if a.next < len(a.bufs) {
		buf := a.bufs[a.next]
		a.next++
		if cap(buf) < n {
			buf = make([]float32, n)
			a.bufs[a.next-1] = buf
			return buf
		}
		return buf[:n]
	}
	buf := make([]float32, n)
	a.bufs = append(a.bufs, buf)
	a.next++
	return buf
}

// RowPtrs returns a scratch [][]float32 of length n, for building a view
// of row pointers (e.g. the per-position key/value slices an attention
// head gathers) without allocating the outer slice on every call. Entries
// are left as whatever the buffer held last; callers always assign every
// index before reading it back. The returned slice is only valid until
// the next Reset call.
func (a *Arena) RowPtrs(n int) [][]float32 {
	if a.ptrNext < len(a.ptrBufs) {
		buf := a.ptrBufs[a.ptrNext]
		a.ptrNext++
		if cap(buf) < n {
			buf = make([][]float32, n)
			a.ptrBufs[a.ptrNext-1] = buf
			return buf
		}
		return buf[:n]
	}
	buf := make([][]float32, n)
	a.ptrBufs = append(a.ptrBufs, buf)
	a.ptrNext++
	return buf
}

// Reset releases every buffer handed out since the last Reset back to the
// pool without freeing the underlying storage.
func (a *Arena) Reset() {
	a.next = 0
	a.ptrNext = 0
}
