package controlinterface

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
)

// Frames on the pipes are a uvarint length prefix followed by that
// many bytes of CBOR. maxFrameSize guards the agent against a
// misbehaving workload writing a bogus length.
const maxFrameSize = 4 << 20

// frameReader decodes length-prefixed frames from a pipe.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// read decodes the next frame into v.
func (f *frameReader) read(v any) error {
	size, err := binary.ReadUvarint(f.r)
	if err != nil {
		return err
	}
	if size > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		return err
	}
	return api.Decode(buf, v)
}

// frameWriter encodes length-prefixed frames onto a pipe.
type frameWriter struct {
	w io.Writer
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w}
}

// write encodes v as one frame.
func (f *frameWriter) write(v any) error {
	payload, err := api.Encode(v)
	if err != nil {
		return err
	}
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(payload)))
	if _, err := f.w.Write(prefix[:n]); err != nil {
		return err
	}
	_, err = f.w.Write(payload)
	return err
}
