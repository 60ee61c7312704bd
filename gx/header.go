package gx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the container signature, including its trailing NUL.
const Magic = "xgcode 1.0\n\x00"

// Header layout constants.
const (
	// HeaderSize is the size of the fixed header; the thumbnail starts right after it.
	HeaderSize = 0x3A

	// ThumbnailOffset is the value of the thumbnail pointer field.
	ThumbnailOffset = HeaderSize

	// ExtruderType is the multi-extruder type flag written by the reference slicer.
	ExtruderType uint16 = 1

	// ShellCount is the perimeter count; it can't be derived from G-code.
	ShellCount uint16 = 3

	// PrintSpeed is the base print speed in mm/s; it can't be derived from G-code.
	PrintSpeed uint16 = 0

	reservedTail uint16 = 0xFFFE
)

var (
	// ErrShortHeader is returned by ParseHeader when fewer than HeaderSize bytes are given.
	ErrShortHeader = errors.New("gx: data shorter than container header")

	// ErrBadMagic is returned by ParseHeader when the signature doesn't match.
	ErrBadMagic = errors.New("gx: bad container magic")
)

// Header is the decoded fixed-offset container header.
type Header struct {
	ThumbnailOffset   uint32
	GCodeOffset       uint32
	GCodeOffsetCopy   uint32
	PrintTime         uint32
	FilamentLength    [2]uint32
	ExtruderType      uint16
	LayerHeightMicron uint16
	ShellCount        uint16
	PrintSpeed        uint16
	BedTemp           uint16
	NozzleTemp        [2]uint16
}

// NewHeader builds the header for the given metadata and thumbnail size.
func NewHeader(meta Metadata, thumbnailSize int) Header {
	gcodeOffset := uint32(HeaderSize + thumbnailSize) //nolint:gosec // thumbnails are a few hundred KiB

	return Header{
		ThumbnailOffset:   ThumbnailOffset,
		GCodeOffset:       gcodeOffset,
		GCodeOffsetCopy:   gcodeOffset,
		PrintTime:         meta.PrintTime,
		FilamentLength:    meta.FilamentLength,
		ExtruderType:      ExtruderType,
		LayerHeightMicron: meta.LayerHeightMicron(),
		ShellCount:        ShellCount,
		PrintSpeed:        PrintSpeed,
		BedTemp:           meta.BedTemp,
		NozzleTemp:        meta.NozzleTemp,
	}
}

// ThumbnailSize returns the thumbnail length implied by the pointer fields.
func (h Header) ThumbnailSize() int {
	if h.GCodeOffset < h.ThumbnailOffset {
		return 0
	}

	return int(h.GCodeOffset - h.ThumbnailOffset)
}

// AppendBinary appends the little-endian encoding of h to b.
func (h Header) AppendBinary(b []byte) []byte {
	b = append(b, Magic...)
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = binary.LittleEndian.AppendUint32(b, h.ThumbnailOffset)
	b = binary.LittleEndian.AppendUint32(b, h.GCodeOffset)
	b = binary.LittleEndian.AppendUint32(b, h.GCodeOffsetCopy)
	b = binary.LittleEndian.AppendUint32(b, h.PrintTime)
	b = binary.LittleEndian.AppendUint32(b, h.FilamentLength[0])
	b = binary.LittleEndian.AppendUint32(b, h.FilamentLength[1])
	b = binary.LittleEndian.AppendUint16(b, h.ExtruderType)
	b = binary.LittleEndian.AppendUint16(b, h.LayerHeightMicron)
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = binary.LittleEndian.AppendUint16(b, h.ShellCount)
	b = binary.LittleEndian.AppendUint16(b, h.PrintSpeed)
	b = binary.LittleEndian.AppendUint16(b, h.BedTemp)
	b = binary.LittleEndian.AppendUint16(b, h.NozzleTemp[0])
	b = binary.LittleEndian.AppendUint16(b, h.NozzleTemp[1])
	b = binary.LittleEndian.AppendUint16(b, reservedTail)

	return b
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize)), nil
}

// ParseHeader decodes the fixed header at the start of a container.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortHeader, len(data), HeaderSize)
	}

	if !bytes.Equal(data[:len(Magic)], []byte(Magic)) {
		return Header{}, ErrBadMagic
	}

	le := binary.LittleEndian

	return Header{
		ThumbnailOffset:   le.Uint32(data[0x10:]),
		GCodeOffset:       le.Uint32(data[0x14:]),
		GCodeOffsetCopy:   le.Uint32(data[0x18:]),
		PrintTime:         le.Uint32(data[0x1C:]),
		FilamentLength:    [2]uint32{le.Uint32(data[0x20:]), le.Uint32(data[0x24:])},
		ExtruderType:      le.Uint16(data[0x28:]),
		LayerHeightMicron: le.Uint16(data[0x2A:]),
		ShellCount:        le.Uint16(data[0x2E:]),
		PrintSpeed:        le.Uint16(data[0x30:]),
		BedTemp:           le.Uint16(data[0x32:]),
		NozzleTemp:        [2]uint16{le.Uint16(data[0x34:]), le.Uint16(data[0x36:])},
	}, nil
}
