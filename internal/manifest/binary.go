package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hupe1980/tasm/internal/conv"
	"github.com/hupe1980/tasm/internal/hash"
	"github.com/hupe1980/tasm/model"
)

const (
	binaryMagic   = 0x4D535354 // "TSSM"
	binaryVersion = CurrentVersion
	maxPayload    = 64 << 20
)

// WriteBinary writes the manifest in binary format.
// Format:
// Magic (4 bytes)
// Version (4 bytes)
// Checksum (4 bytes) - CRC32C of payload
// PayloadLength (4 bytes)
// Payload:
//
//	ID (8 bytes)
//	CreatedAt (8 bytes) - UnixNano
//	Video, Codec, Kind (string)
//	NumLabels (4 bytes), Labels (string)...
//	FrameRate (8 bytes) - float64 bits
//	TileDir (string)
//	Width, Height, FrameCount (4 bytes each)
//	NumSegments (4 bytes)
//	Segments...
//	  Start, End (4 bytes each)
//	  NumTiles (4 bytes)
//	  Rects (4 x 4 bytes)...
//	For each region in Layout.Regions() order:
//	  NumChunks (4 bytes)
//	  Chunks...
//	    Start, End (4 bytes each)
//	    Size (8 bytes)
//	    Path (string)
func (m *Manifest) WriteBinary(w io.Writer) error {
	if m.Layout == nil {
		return fmt.Errorf("%w: missing layout", ErrCorrupt)
	}

	regions := m.Layout.NumTiles()
	buf := make([]byte, 0, 128+regions*96)
	pb := newPayloadBuffer(buf)

	pb.writeUint64(m.ID)
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeString(m.Video)
	pb.writeString(m.Codec)
	pb.writeString(string(m.Kind))
	pb.writeInt(len(m.Labels))
	for _, l := range m.Labels {
		pb.writeString(l)
	}
	pb.writeUint64(math.Float64bits(m.FrameRate))
	pb.writeString(m.TileDir)

	l := m.Layout
	pb.writeInt(l.Size.Width)
	pb.writeInt(l.Size.Height)
	pb.writeInt(l.FrameCount)
	pb.writeInt(len(l.Segments))
	for _, seg := range l.Segments {
		pb.writeRange(seg.Frames)
		pb.writeInt(len(seg.Tiles))
		for _, r := range seg.Tiles {
			pb.writeRect(r)
		}
	}

	if len(m.Tiles) != regions {
		return fmt.Errorf("%w: %d tiles for %d regions", ErrCorrupt, len(m.Tiles), regions)
	}
	for _, t := range m.Tiles {
		pb.writeInt(len(t.Chunks))
		for _, c := range t.Chunks {
			pb.writeRange(c.Frames)
			pb.writeUint64(uint64(c.Size))
			pb.writeString(c.Path)
		}
	}

	if pb.err != nil {
		return pb.err
	}

	payload := pb.buf
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(header[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(header[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload))) // bounded by maxPayload

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadBinary reads the manifest from binary format.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("%w: invalid magic %x", ErrCorrupt, magic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != binaryVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])
	if length > maxPayload {
		return nil, fmt.Errorf("%w: payload length %d", ErrCorrupt, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if hash.CRC32C(payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	pb := newPayloadBuffer(payload)
	m := &Manifest{Version: int(version)}

	m.ID = pb.readUint64()
	m.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	m.Video = pb.readString()
	m.Codec = pb.readString()
	m.Kind = Kind(pb.readString())
	if n := pb.readCount(); n > 0 {
		m.Labels = make([]string, n)
		for i := range m.Labels {
			m.Labels[i] = pb.readString()
		}
	}
	m.FrameRate = math.Float64frombits(pb.readUint64())
	m.TileDir = pb.readString()

	l := &model.Layout{}
	l.Size.Width = int(pb.readUint32())
	l.Size.Height = int(pb.readUint32())
	l.FrameCount = int(pb.readUint32())
	l.Segments = make([]model.Segment, pb.readCount())
	for i := range l.Segments {
		l.Segments[i].Frames = pb.readRange()
		l.Segments[i].Tiles = make([]model.Rect, pb.readCount())
		for j := range l.Segments[i].Tiles {
			l.Segments[i].Tiles[j] = pb.readRect()
		}
	}
	m.Layout = l

	regions := l.Regions()
	m.Tiles = make([]TileInfo, len(regions))
	for i := range m.Tiles {
		m.Tiles[i].Region = regions[i]
		m.Tiles[i].Chunks = make([]ChunkInfo, pb.readCount())
		for j := range m.Tiles[i].Chunks {
			c := &m.Tiles[i].Chunks[j]
			c.Frames = pb.readRange()
			c.Size = int64(pb.readUint64())
			c.Path = pb.readString()
		}
	}

	if pb.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, pb.err)
	}
	return m, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeInt(v int) {
	if p.err != nil {
		return
	}
	u, err := conv.IntToUint32(v)
	if err != nil {
		p.err = err
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, u)
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 65535 {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) readUint64() uint64 {
	if p.err != nil {
		return 0
	}
	if p.pos+8 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadBuffer) readUint32() uint32 {
	if p.err != nil {
		return 0
	}
	if p.pos+4 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payloadBuffer) readString() string {
	if p.err != nil {
		return ""
	}
	if p.pos+2 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return ""
	}
	l := binary.LittleEndian.Uint16(p.buf[p.pos:])
	p.pos += 2

	if p.pos+int(l) > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return ""
	}
	s := string(p.buf[p.pos : p.pos+int(l)])
	p.pos += int(l)
	return s
}

func (p *payloadBuffer) writeRange(r model.FrameRange) {
	p.writeInt(r.Start)
	p.writeInt(r.End)
}

func (p *payloadBuffer) writeRect(r model.Rect) {
	p.writeInt(r.X1)
	p.writeInt(r.Y1)
	p.writeInt(r.X2)
	p.writeInt(r.Y2)
}

func (p *payloadBuffer) readRange() model.FrameRange {
	return model.FrameRange{Start: int(p.readUint32()), End: int(p.readUint32())}
}

func (p *payloadBuffer) readRect() model.Rect {
	return model.Rect{X1: int(p.readUint32()), Y1: int(p.readUint32()), X2: int(p.readUint32()), Y2: int(p.readUint32())}
}

// readCount reads a length prefix and rejects counts the remaining payload cannot hold.
func (p *payloadBuffer) readCount() int {
	n := int(p.readUint32())
	if p.err == nil && n > len(p.buf)-p.pos {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	return n
}
