package buffer

import (
	"errors"
	"io"
)

// DefaultChunkSize is the chunk size ReadBuffers uses when given zero.
const DefaultChunkSize = 1 << 20

// ErrTooLarge is returned by ReadBuffers when the input exceeds its limit.
var ErrTooLarge = errors.New("input exceeds size limit")

// ReadBuffers reads r to EOF into fixed-size chunks so that large inputs are
// never copied into one growing slice. A positive limit caps the total size.
func ReadBuffers(r io.Reader, chunkSize int, limit int64) (Buffers, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var out Buffers
	var total int64
	for {
		chunk := make([]byte, chunkSize)
		n, err := io.ReadFull(r, chunk)
		if n > 0 {
			total += int64(n)
			if limit > 0 && total > limit {
				return nil, ErrTooLarge
			}
			out = append(out, chunk[:n])
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return out, nil
		default:
			return nil, err
		}
	}
}
