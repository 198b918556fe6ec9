package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// streamingDataSize is used when the final length is unknown
const streamingDataSize = 0xFFFFFFFF - 36

// WAVHeader represents a canonical 16-bit PCM WAV header
type WAVHeader struct {
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// NewWAVHeader returns a 16-bit PCM header. dataSize may be zero for streams
// of unknown length.
func NewWAVHeader(sampleRate, channels int, dataSize uint32) WAVHeader {
	if dataSize == 0 {
		dataSize = streamingDataSize
	}
	return WAVHeader{
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		BitsPerSample: 16,
		DataSize:      dataSize,
	}
}

// Bytes encodes the header in its 44-byte on-disk form
func (h WAVHeader) Bytes() []byte {
	blockAlign := h.NumChannels * h.BitsPerSample / 8
	byteRate := h.SampleRate * uint32(blockAlign)

	b := make([]byte, wavHeaderSize)
	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], 36+h.DataSize)
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(b[22:24], h.NumChannels)
	binary.LittleEndian.PutUint32(b[24:28], h.SampleRate)
	binary.LittleEndian.PutUint32(b[28:32], byteRate)
	binary.LittleEndian.PutUint16(b[32:34], blockAlign)
	binary.LittleEndian.PutUint16(b[34:36], h.BitsPerSample)
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], h.DataSize)
	return b
}

// ErrUnsupportedWAV is returned for anything other than 16-bit PCM
var ErrUnsupportedWAV = errors.New("unsupported wav format")

// ReadWAVHeader consumes a WAV header from r, skipping any chunks between
// "fmt " and "data". On return r is positioned at the first sample.
func ReadWAVHeader(r io.Reader) (WAVHeader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVHeader{}, fmt.Errorf("failed to read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVHeader{}, fmt.Errorf("%w: missing RIFF/WAVE signature", ErrUnsupportedWAV)
	}

	var h WAVHeader
	haveFmt := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return WAVHeader{}, fmt.Errorf("failed to read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return WAVHeader{}, fmt.Errorf("%w: fmt chunk too small", ErrUnsupportedWAV)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVHeader{}, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return WAVHeader{}, fmt.Errorf("%w: audio format %d", ErrUnsupportedWAV, format)
			}
			h.NumChannels = binary.LittleEndian.Uint16(body[2:4])
			h.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			h.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			if h.BitsPerSample != 16 {
				return WAVHeader{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, h.BitsPerSample)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVHeader{}, fmt.Errorf("%w: data chunk before fmt", ErrUnsupportedWAV)
			}
			h.DataSize = size
			return h, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return WAVHeader{}, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}

// WAVReader wraps a raw PCM reader and prepends a streaming WAV header
type WAVReader struct {
	reader io.ReadCloser
	header []byte
}

// NewWAVReader creates a new WAV reader
func NewWAVReader(reader io.ReadCloser, sampleRate, channels int) *WAVReader {
	return &WAVReader{
		reader: reader,
		header: NewWAVHeader(sampleRate, channels, 0).Bytes(),
	}
}

// Read returns the remaining header bytes first, then PCM from the wrapped reader
func (wr *WAVReader) Read(p []byte) (int, error) {
	if len(wr.header) > 0 {
		n := copy(p, wr.header)
		wr.header = wr.header[n:]
		return n, nil
	}
	return wr.reader.Read(p)
}

// Close closes the underlying reader
func (wr *WAVReader) Close() error {
	return wr.reader.Close()
}

// WAVWriter writes s16le PCM behind a WAV header. When the destination is
// seekable the header sizes are patched on Close.
type WAVWriter struct {
	w          io.Writer
	sampleRate int
	channels   int
	written    uint32
	started    bool
}

// NewWAVWriter creates a new WAV writer
func NewWAVWriter(w io.Writer, sampleRate, channels int) *WAVWriter {
	return &WAVWriter{w: w, sampleRate: sampleRate, channels: channels}
}

func (ww *WAVWriter) Write(p []byte) (int, error) {
	if !ww.started {
		if _, err := ww.w.Write(NewWAVHeader(ww.sampleRate, ww.channels, 0).Bytes()); err != nil {
			return 0, fmt.Errorf("failed to write wav header: %w", err)
		}
		ww.started = true
	}
	n, err := ww.w.Write(p)
	ww.written += uint32(n)
	return n, err
}

// Close finalizes the header and closes the destination if it is a Closer
func (ww *WAVWriter) Close() error {
	var err error
	if ws, ok := ww.w.(io.WriteSeeker); ok {
		if !ww.started {
			_, err = ww.w.Write(NewWAVHeader(ww.sampleRate, ww.channels, 0).Bytes())
			ww.started = true
		}
		if err == nil {
			err = ww.patchHeader(ws)
		}
	}
	if c, ok := ww.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (ww *WAVWriter) patchHeader(ws io.WriteSeeker) error {
	header := NewWAVHeader(ww.sampleRate, ww.channels, ww.written)
	if ww.written == 0 {
		header.DataSize = 0
	}
	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek wav header: %w", err)
	}
	if _, err := ws.Write(header.Bytes()); err != nil {
		return fmt.Errorf("failed to patch wav header: %w", err)
	}
	_, err := ws.Seek(0, io.SeekEnd)
	return err
}
