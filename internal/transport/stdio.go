package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"
)

type line struct {
	data []byte
	err  error
}

// Stdio is newline-delimited JSON over a reader and a writer, normally
// os.Stdin and os.Stdout.
type Stdio struct {
	lines chan line
	done  chan struct{}
	once  sync.Once

	mu sync.Mutex
	w  io.Writer
}

// NewStdio starts reading r in the background.
func NewStdio(r io.Reader, w io.Writer) *Stdio {
	s := &Stdio{lines: make(chan line), done: make(chan struct{}), w: w}
	go s.readLoop(bufio.NewReader(r))
	return s
}

func (s *Stdio) readLoop(br *bufio.Reader) {
	for {
		data, err := br.ReadBytes('\n')
		data = bytes.TrimSpace(data)
		if len(data) > 0 {
			select {
			case s.lines <- line{data: data}:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				err = ErrClosed
			}
			select {
			case s.lines <- line{err: err}:
			case <-s.done:
			}
			return
		}
	}
}

// Read returns the next non-empty line.
func (s *Stdio) Read(ctx context.Context) ([]byte, error) {
	select {
	case l := <-s.lines:
		return l.data, l.err
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write sends msg followed by a newline.
func (s *Stdio) Write(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 0, len(msg)+1)
	buf = append(append(buf, msg...), '\n')
	_, err := s.w.Write(buf)
	return err
}

// Close stops delivery of further messages. The underlying reader is not closed.
func (s *Stdio) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
