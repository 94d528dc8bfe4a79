// Package segment encodes index snapshots: a fixed header, a varint body and
// a CRC32 footer. Any header a reader does not recognise marks the snapshot
// as stale so the index is rebuilt from raw records.
package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/indexer/index"
)

// MagicBytes identifies an index snapshot ("SPGX").
const (
	MagicBytes    uint32 = 0x53504758
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 4
)

// SnapshotHeader is the 64-byte header written at the start of every snapshot.
type SnapshotHeader struct {
	Magic        uint32
	Version      uint32
	KmerSize     uint32
	NumSequences uint32
	NumLevels    uint32
	NumBuckets   uint64
	BodySize     int64
	CreatedAt    int64
}

func (h SnapshotHeader) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.KmerSize)
	binary.LittleEndian.PutUint32(b[12:16], h.NumSequences)
	binary.LittleEndian.PutUint32(b[16:20], h.NumLevels)
	binary.LittleEndian.PutUint64(b[24:32], h.NumBuckets)
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.BodySize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.CreatedAt))
	return b
}

func decodeHeader(b []byte) SnapshotHeader {
	return SnapshotHeader{
		Magic:        binary.LittleEndian.Uint32(b[0:4]),
		Version:      binary.LittleEndian.Uint32(b[4:8]),
		KmerSize:     binary.LittleEndian.Uint32(b[8:12]),
		NumSequences: binary.LittleEndian.Uint32(b[12:16]),
		NumLevels:    binary.LittleEndian.Uint32(b[16:20]),
		NumBuckets:   binary.LittleEndian.Uint64(b[24:32]),
		BodySize:     int64(binary.LittleEndian.Uint64(b[32:40])),
		CreatedAt:    int64(binary.LittleEndian.Uint64(b[40:48])),
	}
}

// bodyWriter appends uvarints to a buffered stream while tracking size and
// checksum.
type bodyWriter struct {
	w    *bufio.Writer
	crc  hash.Hash32
	size int64
	buf  [binary.MaxVarintLen64]byte
	err  error
}

func (bw *bodyWriter) Write(p []byte) (int, error) {
	if bw.err != nil {
		return 0, bw.err
	}
	n, err := bw.w.Write(p)
	bw.crc.Write(p[:n])
	bw.size += int64(n)
	bw.err = err
	return n, err
}

func (bw *bodyWriter) uvarint(v uint64) {
	n := binary.PutUvarint(bw.buf[:], v)
	bw.Write(bw.buf[:n])
}

func (bw *bodyWriter) str(s string) {
	bw.uvarint(uint64(len(s)))
	io.WriteString(bw, s)
}

// Write atomically creates the snapshot at path. It writes to a .tmp file
// first and renames on success. It returns the number of bytes written.
func Write(path string, c *index.Contents) (int64, error) {
	if c.NumSequences == 0 {
		return 0, fmt.Errorf("cannot write empty snapshot")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer func() {
		if f != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	header := SnapshotHeader{
		Magic:        MagicBytes,
		Version:      FormatVersion,
		KmerSize:     uint32(c.K),
		NumSequences: c.NumSequences,
		NumLevels:    uint32(c.NumLevels()),
		NumBuckets:   uint64(len(c.Buckets)),
		CreatedAt:    time.Now().Unix(),
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		return 0, fmt.Errorf("writing header placeholder: %w", err)
	}

	bw := &bodyWriter{w: bufio.NewWriterSize(f, 1<<20), crc: crc32.NewIEEE()}
	for _, names := range c.Dictionaries {
		bw.uvarint(uint64(len(names)))
		for _, name := range names {
			bw.str(name)
		}
	}
	for _, ids := range c.Annotations {
		for _, id := range ids {
			bw.uvarint(uint64(id))
		}
	}
	for _, list := range c.Buckets {
		bw.uvarint(uint64(len(list)))
		var prev index.SequenceID
		for _, id := range list {
			bw.uvarint(uint64(id - prev))
			prev = id
		}
	}
	if bw.err != nil {
		return 0, fmt.Errorf("writing snapshot body: %w", bw.err)
	}
	if err := bw.w.Flush(); err != nil {
		return 0, fmt.Errorf("flushing snapshot body: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer, bw.crc.Sum32())
	if _, err := f.Write(footer); err != nil {
		return 0, fmt.Errorf("writing footer: %w", err)
	}
	header.BodySize = bw.size
	if _, err := f.WriteAt(header.encode(), 0); err != nil {
		return 0, fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("syncing snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing snapshot file: %w", err)
	}
	f = nil
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming snapshot file: %w", err)
	}
	return int64(HeaderSize) + bw.size + int64(FooterSize), nil
}
