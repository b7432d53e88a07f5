// Package buffer provides vectored byte sources and the chunked body they are
// aggregated into before a one-shot write.
package buffer

// WriteBuf is a source of bytes organised as ordered, possibly non-contiguous
// ranges. Implementations must be safe to read concurrently as long as no one
// mutates the underlying memory.
type WriteBuf interface {
	// Remaining returns the number of bytes left in the source.
	Remaining() int

	// Vectored returns the ordered ranges covering the first n bytes of the
	// source. n is clamped to Remaining(). The returned slices alias the
	// source's memory and must not be modified.
	Vectored(n int) [][]byte
}

// Bytes is a WriteBuf over a single contiguous slice.
type Bytes []byte

// Remaining implements WriteBuf.
func (b Bytes) Remaining() int { return len(b) }

// Vectored implements WriteBuf.
func (b Bytes) Vectored(n int) [][]byte {
	n = clamp(n, len(b))
	if n == 0 {
		return nil
	}
	return [][]byte{b[:n]}
}

// Buffers is a WriteBuf over a sequence of slices, in the manner of
// net.Buffers. Empty slices are allowed and skipped.
type Buffers [][]byte

// Remaining implements WriteBuf.
func (v Buffers) Remaining() int {
	total := 0
	for _, b := range v {
		total += len(b)
	}
	return total
}

// Vectored implements WriteBuf.
func (v Buffers) Vectored(n int) [][]byte {
	n = clamp(n, v.Remaining())
	out := make([][]byte, 0, len(v))
	for _, b := range v {
		if n == 0 {
			break
		}
		if len(b) == 0 {
			continue
		}
		if len(b) > n {
			b = b[:n]
		}
		out = append(out, b)
		n -= len(b)
	}
	return out
}

// concat composes several sources into one.
type concat []WriteBuf

// Concat returns a WriteBuf that yields the bytes of each source in turn.
func Concat(srcs ...WriteBuf) WriteBuf {
	return concat(srcs)
}

func (c concat) Remaining() int {
	total := 0
	for _, s := range c {
		total += s.Remaining()
	}
	return total
}

func (c concat) Vectored(n int) [][]byte {
	n = clamp(n, c.Remaining())
	var out [][]byte
	for _, s := range c {
		if n == 0 {
			break
		}
		take := clamp(n, s.Remaining())
		out = append(out, s.Vectored(take)...)
		n -= take
	}
	return out
}

func clamp(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}
