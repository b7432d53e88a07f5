package buffer

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	dlserr "github.com/bleepstore/azdls/internal/errors"
)

func TestAggregatePreservesOrderAndLength(t *testing.T) {
	src := Buffers{[]byte("hello"), []byte(" "), []byte("world")}

	body, err := Aggregate(src)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if body.Len() != 11 {
		t.Errorf("Len = %d, want 11", body.Len())
	}
	if got := string(body.Bytes()); got != "hello world" {
		t.Errorf("Bytes = %q, want %q", got, "hello world")
	}

	data, err := io.ReadAll(body.Reader())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("Reader yielded %q", data)
	}
	// A second reader starts over.
	again, _ := io.ReadAll(body.Reader())
	if !bytes.Equal(again, data) {
		t.Errorf("second Reader yielded %q", again)
	}
}

func TestAggregateEmpty(t *testing.T) {
	for name, src := range map[string]WriteBuf{
		"nil buffers":    Buffers(nil),
		"empty ranges":   Buffers{{}, {}},
		"empty bytes":    Bytes(nil),
		"empty concat":   Concat(),
		"concat empties": Concat(Bytes{}, Buffers{}),
	} {
		t.Run(name, func(t *testing.T) {
			body, err := Aggregate(src)
			if err != nil {
				t.Fatalf("Aggregate: %v", err)
			}
			if body.Len() != 0 {
				t.Errorf("Len = %d, want 0", body.Len())
			}
			data, _ := io.ReadAll(body.Reader())
			if len(data) != 0 {
				t.Errorf("Reader yielded %q", data)
			}
		})
	}
}

func TestAggregateSkipsEmptyRanges(t *testing.T) {
	body, err := Aggregate(Buffers{{}, []byte("ab"), {}, []byte("c"), {}})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(body.Chunks()) != 2 {
		t.Errorf("Chunks = %d, want 2", len(body.Chunks()))
	}
	if string(body.Bytes()) != "abc" {
		t.Errorf("Bytes = %q", body.Bytes())
	}
}

func TestConcatComposesSources(t *testing.T) {
	src := Concat(Bytes("head-"), Buffers{[]byte("mid"), []byte("dle")}, Bytes("-tail"))
	if src.Remaining() != 16 {
		t.Fatalf("Remaining = %d, want 16", src.Remaining())
	}
	body, err := Aggregate(src)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if got := string(body.Bytes()); got != "head-middle-tail" {
		t.Errorf("Bytes = %q", got)
	}
}

func TestVectoredClampsToRequestedLength(t *testing.T) {
	v := Buffers{[]byte("abc"), []byte("def"), []byte("ghi")}
	got := v.Vectored(5)
	if len(got) != 2 || string(got[0]) != "abc" || string(got[1]) != "de" {
		t.Errorf("Vectored(5) = %q", got)
	}
	if got := Bytes("xyz").Vectored(10); len(got) != 1 || string(got[0]) != "xyz" {
		t.Errorf("Bytes.Vectored(10) = %q", got)
	}
	if got := Concat(Bytes("ab"), Bytes("cd")).Vectored(3); len(got) != 2 || string(got[1]) != "c" {
		t.Errorf("Concat.Vectored(3) = %q", got)
	}
}

// lyingBuf reports more bytes than it yields.
type lyingBuf struct{}

func (lyingBuf) Remaining() int        { return 10 }
func (lyingBuf) Vectored(int) [][]byte { return [][]byte{[]byte("abc")} }

// greedyBuf yields more bytes than it reports.
type greedyBuf struct{}

func (greedyBuf) Remaining() int        { return 4 }
func (greedyBuf) Vectored(int) [][]byte { return [][]byte{[]byte("abc"), []byte("defg")} }

func TestAggregateLengthMismatch(t *testing.T) {
	if _, err := Aggregate(lyingBuf{}); !errors.Is(err, dlserr.ErrShortBuffer) {
		t.Errorf("err = %v, want ErrShortBuffer", err)
	}

	body, err := Aggregate(greedyBuf{})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if string(body.Bytes()) != "abcd" {
		t.Errorf("Bytes = %q, want truncated to reported length", body.Bytes())
	}
}

func TestReadBuffers(t *testing.T) {
	input := strings.Repeat("0123456789", 10)

	bufs, err := ReadBuffers(strings.NewReader(input), 32, 0)
	if err != nil {
		t.Fatalf("ReadBuffers: %v", err)
	}
	if len(bufs) != 4 {
		t.Errorf("chunks = %d, want 4", len(bufs))
	}
	if bufs.Remaining() != len(input) {
		t.Errorf("Remaining = %d, want %d", bufs.Remaining(), len(input))
	}
	body, _ := Aggregate(bufs)
	if string(body.Bytes()) != input {
		t.Error("round trip through chunks changed the data")
	}

	if _, err := ReadBuffers(strings.NewReader(input), 32, 99); !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}

	empty, err := ReadBuffers(strings.NewReader(""), 0, 0)
	if err != nil || empty.Remaining() != 0 {
		t.Errorf("empty input: %v, %d bytes", err, empty.Remaining())
	}
}
