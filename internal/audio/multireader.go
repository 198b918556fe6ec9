package audio

import (
	"io"
	"sync"

	"github.com/yegors/interview-coach/pkg/logger"
)

// DefaultMonitorBufferSize holds a little over a second of 24 kHz mono s16le
const DefaultMonitorBufferSize = 64 * 1024

// MultiReader fans a single PCM stream out to any number of readers. Writes
// never block: a reader that falls more than one buffer behind skips ahead
// to the oldest retained byte.
type MultiReader struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buffer  []byte
	written int64 // total bytes ever written; ring position is written % len(buffer)
	readers map[string]*multiReaderClient
	closed  bool
	logger  *logger.Logger
}

// NewMultiReader creates a new multi-reader with a ring of bufferSize bytes
func NewMultiReader(bufferSize int, log *logger.Logger) *MultiReader {
	if bufferSize <= 0 {
		bufferSize = DefaultMonitorBufferSize
	}
	if log == nil {
		log = logger.Nop()
	}
	mr := &MultiReader{
		buffer:  make([]byte, bufferSize),
		readers: make(map[string]*multiReaderClient),
		logger:  log.Named("monitor"),
	}
	mr.cond = sync.NewCond(&mr.mu)
	return mr
}

// Write copies p into the ring and wakes every waiting reader
func (mr *MultiReader) Write(p []byte) (int, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if mr.closed {
		return 0, io.ErrClosedPipe
	}

	size := int64(len(mr.buffer))
	data := p
	if int64(len(data)) > size {
		// Only the tail survives anyway
		mr.written += int64(len(data)) - size
		data = data[int64(len(data))-size:]
	}
	for len(data) > 0 {
		off := mr.written % size
		n := copy(mr.buffer[off:], data)
		data = data[n:]
		mr.written += int64(n)
	}

	mr.cond.Broadcast()
	return len(p), nil
}

// CreateReader registers a reader that starts at the current write position.
// An existing reader with the same id is closed first.
func (mr *MultiReader) CreateReader(id string) io.ReadCloser {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if old, ok := mr.readers[id]; ok {
		old.closed = true
		mr.cond.Broadcast()
	}

	client := &multiReaderClient{mr: mr, id: id, pos: mr.written, closed: mr.closed}
	mr.readers[id] = client
	mr.logger.Debug("Created monitor reader", logger.String("reader_id", id))
	return client
}

// Readers returns the number of attached readers
func (mr *MultiReader) Readers() int {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return len(mr.readers)
}

// Close ends every reader with io.EOF. Safe to call more than once.
func (mr *MultiReader) Close() error {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if mr.closed {
		return nil
	}
	mr.closed = true
	for _, r := range mr.readers {
		r.closed = true
	}
	mr.readers = make(map[string]*multiReaderClient)
	mr.cond.Broadcast()
	return nil
}

type multiReaderClient struct {
	mr     *MultiReader
	id     string
	pos    int64
	closed bool // guarded by mr.mu
}

func (c *multiReaderClient) Read(p []byte) (int, error) {
	mr := c.mr
	mr.mu.Lock()
	defer mr.mu.Unlock()

	for c.pos == mr.written && !c.closed && !mr.closed {
		mr.cond.Wait()
	}
	if c.closed || (mr.closed && c.pos == mr.written) {
		return 0, io.EOF
	}

	size := int64(len(mr.buffer))
	if mr.written-c.pos > size {
		mr.logger.Debug("Monitor reader fell behind",
			logger.String("reader_id", c.id),
			logger.Int64("skipped_bytes", mr.written-c.pos-size))
		c.pos = mr.written - size
	}

	n := 0
	for n < len(p) && c.pos < mr.written {
		off := c.pos % size
		end := size
		if avail := mr.written - c.pos; off+avail < end {
			end = off + avail
		}
		m := copy(p[n:], mr.buffer[off:end])
		n += m
		c.pos += int64(m)
	}
	return n, nil
}

func (c *multiReaderClient) Close() error {
	mr := c.mr
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if mr.readers[c.id] == c {
		delete(mr.readers, c.id)
	}
	mr.cond.Broadcast()
	mr.logger.Debug("Removed monitor reader", logger.String("reader_id", c.id))
	return nil
}
