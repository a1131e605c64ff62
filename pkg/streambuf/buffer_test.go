package streambuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndBytes(t *testing.T) {
	b := New()
	b.Append([]byte("HELLO"))
	require.Equal(t, "HELLO", string(b.Bytes()))
	require.Equal(t, 5, b.Len())
}

func TestTrimFrontIsCheap(t *testing.T) {
	b := New()
	b.Append([]byte("0123456789"))
	b.TrimFront(4)
	require.Equal(t, "456789", string(b.Bytes()))
	b.Append([]byte("X"))
	require.Equal(t, "456789X", string(b.Bytes()))
}

func TestFindWrapsNegativeStart(t *testing.T) {
	b := New()
	b.Append([]byte("abcabc"))
	require.Equal(t, 3, b.Find([]byte("abc"), -3))
	require.Equal(t, -1, b.Find([]byte("z"), 0))
	require.Equal(t, 2, b.Find(nil, 2))
}

func TestReplaceFrontIsTrim(t *testing.T) {
	b := New()
	b.Append([]byte("prefix:payload"))
	b.Replace(0, len("prefix:"), nil)
	require.Equal(t, "payload", string(b.Bytes()))
}

func TestReplaceGrows(t *testing.T) {
	b := New()
	b.Append([]byte("a[]b"))
	b.Replace(2, 0, []byte("INSERTED"))
	require.Equal(t, "a[INSERTED]b", string(b.Bytes()))
}

func TestReplaceShrinks(t *testing.T) {
	b := New()
	b.Append([]byte("a[LONGVALUE]b"))
	b.Replace(2, len("LONGVALUE"), []byte("x"))
	require.Equal(t, "a[x]b", string(b.Bytes()))
}

func TestGrowthDoublesUntilTarget(t *testing.T) {
	b := NewWithCeiling(0)
	for i := 0; i < 1000; i++ {
		b.AppendByte('x')
	}
	require.Equal(t, 1000, b.Len())
	require.Equal(t, 1024, b.Cap())
}

func TestGrowthAbortsPastCeiling(t *testing.T) {
	b := NewWithCeiling(16)
	require.Panics(t, func() {
		b.Append(make([]byte, 17))
	})
}

func TestExpandRendersControlBytes(t *testing.T) {
	b := New()
	b.Append([]byte{'a', 0x01, 0x7F, 'b'})
	require.Equal(t, "a<01><7f>b", b.Expand(0, b.Len()))
}

func TestPrintfMatchesSprintf(t *testing.T) {
	b := New()
	b.Printf("V=%d, name=%s", 42, "gauge")
	require.Equal(t, "V=42, name=gauge", string(b.Bytes()))
}

func TestPoolReuse(t *testing.T) {
	p := NewPool()
	b := p.Get(0, 8192)
	b.Append(make([]byte, 100))
	cap1 := b.Cap()
	p.Release(b)
	b2 := p.Get(0, 8192)
	require.Equal(t, cap1, b2.Cap())
}
