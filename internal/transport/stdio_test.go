package transport

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStdioReadsLines(t *testing.T) {
	in := strings.NewReader("{\"a\":1}\n\n  \r\n{\"b\":2}\r\n{\"c\":3}")
	s := NewStdio(in, io.Discard)
	defer s.Close()
	ctx := context.Background()

	for _, want := range []string{`{"a":1}`, `{"b":2}`, `{"c":3}`} {
		got, err := s.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	_, err := s.Read(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStdioWritesLines(t *testing.T) {
	var out syncBuffer
	s := NewStdio(strings.NewReader(""), &out)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Write(context.Background(), []byte(`{"jsonrpc":"2.0"}`)))
		}()
	}
	wg.Wait()
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	assert.Len(t, lines, 20)
	for _, l := range lines {
		assert.Equal(t, `{"jsonrpc":"2.0"}`, l)
	}
}

func TestStdioReadHonorsContextAndClose(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStdio(pr, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, s.Close())
	_, err = s.Read(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Write(context.Background(), []byte("{}")), ErrClosed)
}
