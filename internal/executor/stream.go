package executor

import (
	"bytes"
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Stream is one captured (or discarded) output of a process.
type Stream interface {
	// Read drains whatever is available without blocking, appends it to the
	// buffer and returns it. Nothing available yields nil.
	Read() []byte
	// Bytes returns a copy of everything read so far.
	Bytes() []byte
	// Fd is the readable descriptor, -1 when there is none.
	Fd() int
	Close() error
}

// pipeStream buffers the read end of an output pipe. The descriptor is put in
// non-blocking mode at construction and read with raw syscalls; file keeps the
// descriptor alive and owns closing it.
type pipeStream struct {
	name string
	log  zerolog.Logger

	mu    sync.Mutex
	file  *os.File
	fd    int
	eof   bool
	buf   bytes.Buffer
	chunk []byte
}

func newPipeStream(name string, file *os.File, chunkSize int, logger zerolog.Logger) (*pipeStream, error) {
	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultConfig().ReadChunkSize
	}
	return &pipeStream{
		name:  name,
		log:   logger,
		file:  file,
		fd:    fd,
		chunk: make([]byte, chunkSize),
	}, nil
}

func (s *pipeStream) Read() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *pipeStream) readLocked() []byte {
	if s.fd < 0 || s.eof {
		return nil
	}
	var got []byte
	for {
		n, err := unix.Read(s.fd, s.chunk)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if len(got) == 0 {
				s.log.Debug().Str("stream", s.name).Int("fd", s.fd).Msg("read would block")
			}
		case err != nil:
			s.log.Warn().Str("stream", s.name).Int("fd", s.fd).Err(err).Msg("read stream failed")
			s.eof = true
		case n == 0:
			s.eof = true
		default:
			got = append(got, s.chunk[:n]...)
			continue
		}
		break
	}
	s.buf.Write(got)
	return got
}

func (s *pipeStream) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.buf.Bytes())
}

func (s *pipeStream) Fd() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

// exhausted reports EOF or a closed descriptor.
func (s *pipeStream) exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd < 0 || s.eof
}

// Close drains what is still buffered in the pipe, then closes it.
func (s *pipeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	s.readLocked()
	s.fd = -1
	return s.file.Close()
}

// nullStream stands in for discarded output.
type nullStream struct{}

func (nullStream) Read() []byte  { return nil }
func (nullStream) Bytes() []byte { return nil }
func (nullStream) Fd() int       { return -1 }
func (nullStream) Close() error  { return nil }
