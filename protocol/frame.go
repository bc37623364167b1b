package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// Delimiter terminates every frame on the wire.
const Delimiter byte = 0

// A FrameReader splits a byte stream into frames.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader creates a FrameReader that buffers reads from r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// ReadFrame returns the next frame without its delimiter. It returns io.EOF
// if the stream ends between frames and io.ErrUnexpectedEOF if it ends inside
// one.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	frame, err := f.r.ReadBytes(Delimiter)
	if err != nil {
		if errors.Is(err, io.EOF) && len(frame) > 0 {
			return nil, io.ErrUnexpectedEOF
		}

		return nil, err
	}

	return frame[:len(frame)-1], nil
}

// A FrameWriter writes delimited frames.
type FrameWriter struct {
	w *bufio.Writer
}

// NewFrameWriter creates a FrameWriter on top of w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: bufio.NewWriter(w)}
}

// WriteFrame writes one frame and flushes it.
func (f *FrameWriter) WriteFrame(payload []byte) error {
	if bytes.IndexByte(payload, Delimiter) >= 0 {
		return errors.New("protocol: frame payload contains the delimiter")
	}

	if _, err := f.w.Write(payload); err != nil {
		return err
	}

	if err := f.w.WriteByte(Delimiter); err != nil {
		return err
	}

	return f.w.Flush()
}
