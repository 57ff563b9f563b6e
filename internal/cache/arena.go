package cache

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
)

const (
	ArenaHeaderSize = 16
	ArenaMagic      = 0x47464643 // 'GFFC'
	ArenaVersion    = 1

	frameHeaderSize = 5 // kind byte + uint32 length
)

const (
	kindFeature byte = 'F'
	kindBlob    byte = 'S'
)

type ArenaHeader struct {
	Magic   uint32
	Version uint8
	Padding [3]byte
	RunID   [8]byte
}

// writeArenaHeader writes the fixed header at the start of a fresh arena.
func writeArenaHeader(f billy.File, runID [8]byte) error {
	buf := make([]byte, ArenaHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], ArenaMagic)
	buf[4] = ArenaVersion
	copy(buf[8:16], runID[:])
	_, err := f.Write(buf)
	return err
}

// ReadArenaHeader reads and validates the header of an arena file.
func ReadArenaHeader(f io.ReaderAt) (*ArenaHeader, error) {
	buf := make([]byte, ArenaHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	h := &ArenaHeader{
		Magic:   binary.LittleEndian.Uint32(buf[0:4]),
		Version: buf[4],
	}
	copy(h.RunID[:], buf[8:16])
	if h.Magic != ArenaMagic {
		return nil, fmt.Errorf("invalid arena magic: %x", h.Magic)
	}
	if h.Version != ArenaVersion {
		return nil, fmt.Errorf("unsupported arena version: %d", h.Version)
	}
	return h, nil
}

// frame prefixes payload with its kind and length.
func frame(kind byte, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	buf[0] = kind
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// readFrame reads the frame at off and checks its kind. size bounds valid offsets.
func readFrame(f io.ReaderAt, off, size int64, want byte) ([]byte, error) {
	if off < ArenaHeaderSize || off+frameHeaderSize > size {
		return nil, fmt.Errorf("offset %d outside arena of %d bytes", off, size)
	}
	hdr := make([]byte, frameHeaderSize)
	if _, err := f.ReadAt(hdr, off); err != nil {
		return nil, err
	}
	if hdr[0] != want {
		return nil, fmt.Errorf("offset %d holds frame kind %q, want %q", off, hdr[0], want)
	}
	n := int64(binary.LittleEndian.Uint32(hdr[1:5]))
	if off+frameHeaderSize+n > size {
		return nil, fmt.Errorf("frame at %d overruns arena", off)
	}
	payload := make([]byte, n)
	if _, err := f.ReadAt(payload, off+frameHeaderSize); err != nil && err != io.EOF {
		return nil, err
	}
	return payload, nil
}
