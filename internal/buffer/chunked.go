package buffer

import (
	"bytes"
	"fmt"
	"io"

	dlserr "github.com/bleepstore/azdls/internal/errors"
)

// ChunkedBytes is the order-preserving concatenation of a WriteBuf's ranges,
// sent as a single request body. The chunks are not copied.
type ChunkedBytes struct {
	chunks [][]byte
	size   int
}

// Aggregate collects every range of src, in order, into a ChunkedBytes whose
// length equals src.Remaining() at the time of the call. Ranges beyond the
// reported length are truncated; a source that yields fewer bytes than it
// reports fails with ErrShortBuffer.
func Aggregate(src WriteBuf) (ChunkedBytes, error) {
	want := src.Remaining()
	ranges := src.Vectored(want)

	chunks := make([][]byte, 0, len(ranges))
	size := 0
	for _, r := range ranges {
		if size == want {
			break
		}
		if len(r) == 0 {
			continue
		}
		if size+len(r) > want {
			r = r[:want-size]
		}
		chunks = append(chunks, r)
		size += len(r)
	}
	if size != want {
		return ChunkedBytes{}, fmt.Errorf("%w: got %d of %d bytes", dlserr.ErrShortBuffer, size, want)
	}
	return ChunkedBytes{chunks: chunks, size: size}, nil
}

// Len returns the total number of bytes.
func (c ChunkedBytes) Len() int { return c.size }

// Chunks returns the underlying ranges in order.
func (c ChunkedBytes) Chunks() [][]byte { return c.chunks }

// Reader returns a fresh reader over the full body. Each call starts from
// the first byte, so it can serve as http.Request.GetBody.
func (c ChunkedBytes) Reader() io.Reader {
	if len(c.chunks) == 1 {
		return bytes.NewReader(c.chunks[0])
	}
	readers := make([]io.Reader, len(c.chunks))
	for i, chunk := range c.chunks {
		readers[i] = bytes.NewReader(chunk)
	}
	return io.MultiReader(readers...)
}

// Bytes copies the body into one contiguous slice.
func (c ChunkedBytes) Bytes() []byte {
	out := make([]byte, 0, c.size)
	for _, chunk := range c.chunks {
		out = append(out, chunk...)
	}
	return out
}
