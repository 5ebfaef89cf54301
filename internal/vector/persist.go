package vector

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// File format, little-endian throughout:
//
//	magic   [8]byte  "SAGEIDX" + format version byte
//	metric  uint8
//	dim     uint32
//	count   uint32
//	records count × { id, sourceID, text: uint32-length-prefixed UTF-8;
//	                  offset uint64; vector dim × float32 }
//	crc     uint32   IEEE CRC32 of everything after the magic
var indexMagic = [8]byte{'S', 'A', 'G', 'E', 'I', 'D', 'X', 1}

// maxStringLen bounds length prefixes read from disk so a corrupt file
// cannot trigger a huge allocation before the CRC check has a chance to run.
const maxStringLen = 64 << 20 // 64MB

// Save writes the index to path atomically: the encoded snapshot goes to a
// temporary file in the same directory which is fsynced and renamed over
// path. A sidecar flock serializes concurrent savers across processes.
func (idx *Index) Save(path string) error {
	snap := idx.snap.Load()

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquiring index lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := encodeSnapshot(idx.metric, snap)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	tmpName := tmp.Name()

	// Remove the temp file on any failure path after this point.
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("writing temp index file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("syncing temp index file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return cleanup(fmt.Errorf("closing temp index file: %w", err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publishing index file: %w", err)
	}
	return nil
}

// Load reads an index previously written by Save. The header and checksum
// are validated before any chunk is exposed; any mismatch or truncation
// yields ErrCorruptIndex. A missing file reports fs.ErrNotExist through
// the wrapped error, so callers can choose to start empty.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}

	metric, snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}

	idx := New(metric)
	idx.snap.Store(snap)
	return idx, nil
}

func encodeSnapshot(metric Metric, snap *snapshot) ([]byte, error) {
	var body bytes.Buffer
	body.WriteByte(byte(metric))

	var u32 [4]byte
	writeU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32[:], v)
		body.Write(u32[:])
	}
	writeString := func(s string) {
		writeU32(uint32(len(s)))
		body.WriteString(s)
	}

	writeU32(uint32(snap.dim))
	writeU32(uint32(len(snap.chunks)))

	var u64 [8]byte
	for _, c := range snap.chunks {
		if len(c.Vector) != snap.dim {
			return nil, fmt.Errorf("chunk %q dimension %d differs from index %d: %w",
				c.ID, len(c.Vector), snap.dim, ErrDimensionMismatch)
		}
		writeString(c.ID)
		writeString(c.SourceID)
		writeString(c.Text)
		binary.LittleEndian.PutUint64(u64[:], uint64(c.Offset))
		body.Write(u64[:])
		for _, f := range c.Vector {
			binary.LittleEndian.PutUint32(u32[:], math.Float32bits(f))
			body.Write(u32[:])
		}
	}

	out := make([]byte, 0, len(indexMagic)+body.Len()+4)
	out = append(out, indexMagic[:]...)
	out = append(out, body.Bytes()...)

	binary.LittleEndian.PutUint32(u32[:], crc32.ChecksumIEEE(body.Bytes()))
	out = append(out, u32[:]...)
	return out, nil
}

func decodeSnapshot(data []byte) (Metric, *snapshot, error) {
	if len(data) < len(indexMagic)+4 {
		return 0, nil, fmt.Errorf("file too short (%d bytes): %w", len(data), ErrCorruptIndex)
	}
	if !bytes.Equal(data[:len(indexMagic)], indexMagic[:]) {
		return 0, nil, fmt.Errorf("bad magic or unsupported format version: %w", ErrCorruptIndex)
	}

	body := data[len(indexMagic) : len(data)-4]
	wantCRC := binary.LittleEndian.Uint32(data[len(data)-4:])
	if got := crc32.ChecksumIEEE(body); got != wantCRC {
		return 0, nil, fmt.Errorf("checksum mismatch (got %08x, want %08x): %w", got, wantCRC, ErrCorruptIndex)
	}

	r := bytes.NewReader(body)
	readU32 := func() (uint32, error) {
		var buf [4]byte
		if _, err := r.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("truncated index: %w", ErrCorruptIndex)
		}
		return binary.LittleEndian.Uint32(buf[:]), nil
	}
	readString := func() (string, error) {
		n, err := readU32()
		if err != nil {
			return "", err
		}
		if n > maxStringLen || int64(n) > int64(r.Len()) {
			return "", fmt.Errorf("string length %d exceeds remaining data: %w", n, ErrCorruptIndex)
		}
		buf := make([]byte, n)
		if _, err := r.Read(buf); err != nil {
			return "", fmt.Errorf("truncated string: %w", ErrCorruptIndex)
		}
		return string(buf), nil
	}

	metricByte, err := r.ReadByte()
	if err != nil {
		return 0, nil, fmt.Errorf("truncated header: %w", ErrCorruptIndex)
	}
	metric := Metric(metricByte)
	if metric != MetricCosine && metric != MetricL2 {
		return 0, nil, fmt.Errorf("unknown metric %d: %w", metricByte, ErrCorruptIndex)
	}

	dim32, err := readU32()
	if err != nil {
		return 0, nil, err
	}
	count32, err := readU32()
	if err != nil {
		return 0, nil, err
	}
	dim, count := int(dim32), int(count32)

	snap := &snapshot{
		dim:    dim,
		chunks: make([]Chunk, 0, count),
		ids:    make(map[string]struct{}, count),
	}

	var u64 [8]byte
	for i := 0; i < count; i++ {
		var c Chunk
		if c.ID, err = readString(); err != nil {
			return 0, nil, err
		}
		if c.SourceID, err = readString(); err != nil {
			return 0, nil, err
		}
		if c.Text, err = readString(); err != nil {
			return 0, nil, err
		}
		if _, err = r.Read(u64[:]); err != nil {
			return 0, nil, fmt.Errorf("truncated offset: %w", ErrCorruptIndex)
		}
		c.Offset = int(binary.LittleEndian.Uint64(u64[:]))

		c.Vector = make([]float32, dim)
		for j := 0; j < dim; j++ {
			bits, err := readU32()
			if err != nil {
				return 0, nil, err
			}
			c.Vector[j] = math.Float32frombits(bits)
		}

		snap.ids[c.ID] = struct{}{}
		snap.chunks = append(snap.chunks, c)
	}

	if r.Len() != 0 {
		return 0, nil, fmt.Errorf("%d trailing bytes after %d chunks: %w", r.Len(), count, ErrCorruptIndex)
	}
	return metric, snap, nil
}
