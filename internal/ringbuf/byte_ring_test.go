package ringbuf_test

import (
	"math/rand"
	"testing"

	"github.com/momentics/hioreactor/internal/ringbuf"
	"github.com/stretchr/testify/require"
)

func TestByteRing_RoundTrip(t *testing.T) {
	r := ringbuf.New(make([]byte, 64))
	src := []byte("the quick brown fox jumps over the lazy dog")

	var out []byte
	written := 0
	for written < len(src) {
		chunkLen := 1 + rand.Intn(7)
		if chunkLen > r.BytesWritable() {
			// drain some out before writing more, mimicking a socket
			// drain cycle between recv() calls.
			buf := make([]byte, r.BytesReadable())
			n := r.CopyOut(buf)
			out = append(out, buf[:n]...)
			continue
		}
		end := written + chunkLen
		if end > len(src) {
			end = len(src)
		}
		n := r.CopyIn(src[written:end])
		written += n
	}
	buf := make([]byte, r.BytesReadable())
	n := r.CopyOut(buf)
	out = append(out, buf[:n]...)

	require.Equal(t, src, out)
}

func TestByteRing_LinearSpans(t *testing.T) {
	r := ringbuf.New(make([]byte, 8))

	span := r.LinearWriteSpan()
	require.Len(t, span, 8)
	copy(span, []byte("abcdefgh"))
	r.CommitWrite(8)
	require.Equal(t, 0, r.BytesWritable())

	rd := r.LinearReadSpan()
	require.Equal(t, "abcdefgh", string(rd))
	r.CommitRead(4)
	require.Equal(t, 4, r.BytesReadable())

	// After the partial read the write position has wrapped to 0 and the
	// read position sits at 4, so the only free space is the 4-byte
	// vacated prefix: the write span is at most 4 bytes.
	ws := r.LinearWriteSpan()
	require.LessOrEqual(t, len(ws), 4)

	rest := make([]byte, r.BytesReadable())
	r.CopyOut(rest)
	require.Equal(t, "efgh", string(rest))
	require.Equal(t, 0, r.BytesReadable())
	require.Equal(t, 8, r.BytesWritable())
}

func TestByteRing_EmptyResetsIndices(t *testing.T) {
	r := ringbuf.New(make([]byte, 4))
	r.CopyIn([]byte("ab"))
	buf := make([]byte, 2)
	r.CopyOut(buf)
	require.Equal(t, 0, r.BytesReadable())
	// Draining to empty should reset head/tail so the next write gets the
	// full contiguous span again.
	require.Len(t, r.LinearWriteSpan(), 4)
}
