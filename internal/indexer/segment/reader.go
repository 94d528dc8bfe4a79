package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
)

// ErrCorrupt marks a snapshot whose header is current but whose body cannot
// be trusted. It is a kind of stale snapshot.
var ErrCorrupt = fmt.Errorf("%w: corrupt", apperrors.ErrStaleSnapshot)

func stale(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrStaleSnapshot, format, args...)
}

func corrupt(format string, args ...any) error {
	return apperrors.Newf(ErrCorrupt, format, args...)
}

// ReadHeader returns the header of the snapshot at path.
func ReadHeader(path string) (SnapshotHeader, error) {
	f, err := os.Open(path) // #nosec G304 -- path is derived from the configured database
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return SnapshotHeader{}, fmt.Errorf("%w: %w", apperrors.ErrStaleSnapshot, err)
		}
		return SnapshotHeader{}, apperrors.Newf(apperrors.ErrIO, "opening snapshot: %v", err)
	}
	defer f.Close()
	return readHeader(f)
}

func readHeader(f *os.File) (SnapshotHeader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return SnapshotHeader{}, stale("reading snapshot header: %v", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return header, stale("bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return header, stale("snapshot format version %d, want %d", header.Version, FormatVersion)
	}
	return header, nil
}

// Read decodes the snapshot at path for k-mer size k. Missing files, foreign
// formats, other versions and other k-mer sizes are reported as
// ErrStaleSnapshot; damaged bodies as ErrCorrupt. memoryLimit bounds the
// bucket array allocation just as during a build.
func Read(path string, k int, memoryLimit uint64) (*index.Contents, error) {
	f, err := os.Open(path) // #nosec G304 -- path is derived from the configured database
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrStaleSnapshot, err)
		}
		return nil, apperrors.Newf(apperrors.ErrIO, "opening snapshot: %v", err)
	}
	defer f.Close()

	header, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	if int(header.KmerSize) != k {
		return nil, stale("snapshot kmer size %d, want %d", header.KmerSize, k)
	}
	c := &index.Contents{K: k, NumSequences: header.NumSequences}
	if header.NumBuckets != c.KeySpace() {
		return nil, corrupt("snapshot has %d buckets, want %d", header.NumBuckets, c.KeySpace())
	}
	if header.NumLevels == 0 || header.BodySize <= 0 {
		return nil, corrupt("snapshot header has %d levels and %d body bytes", header.NumLevels, header.BodySize)
	}

	crc := crc32.NewIEEE()
	body := io.NewSectionReader(f, int64(HeaderSize), header.BodySize)
	br := bufio.NewReaderSize(io.TeeReader(body, crc), 1<<20)
	d := &bodyDecoder{r: br, limit: uint64(header.BodySize)}

	c.Dictionaries = make([][]string, header.NumLevels)
	for level := range c.Dictionaries {
		n := d.count()
		names := make([]string, 0, n)
		for i := uint64(0); i < n && d.err == nil; i++ {
			names = append(names, d.str())
		}
		c.Dictionaries[level] = names
	}
	c.Annotations = make([][]index.AnnotationID, header.NumLevels)
	for level := range c.Annotations {
		if d.err != nil {
			break
		}
		ids := make([]index.AnnotationID, header.NumSequences)
		for i := range ids {
			ids[i] = d.uint32()
		}
		c.Annotations[level] = ids
	}
	if d.err != nil {
		return nil, corrupt("decoding annotations: %v", d.err)
	}

	c.Buckets, err = index.NewBuckets(header.NumBuckets, memoryLimit)
	if err != nil {
		return nil, err
	}
	for key := range c.Buckets {
		n := d.count()
		if n > uint64(header.NumSequences) {
			return nil, corrupt("bucket %d has %d entries for %d sequences", key, n, header.NumSequences)
		}
		if n == 0 || d.err != nil {
			continue
		}
		list := make(index.PostingList, n)
		var prev uint64
		for i := range list {
			prev += d.uvarint()
			list[i] = index.SequenceID(prev)
		}
		c.Buckets[key] = list
	}
	if d.err != nil {
		return nil, corrupt("decoding buckets: %v", d.err)
	}
	if _, err := io.Copy(io.Discard, br); err != nil {
		return nil, corrupt("draining snapshot body: %v", err)
	}
	if d.read != uint64(header.BodySize) {
		return nil, corrupt("snapshot body has %d trailing bytes", uint64(header.BodySize)-d.read)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, int64(HeaderSize)+header.BodySize); err != nil {
		return nil, corrupt("reading footer: %v", err)
	}
	if want, got := binary.LittleEndian.Uint32(footer), crc.Sum32(); want != got {
		return nil, corrupt("checksum mismatch: stored %08x, computed %08x", want, got)
	}
	return c, nil
}

// bodyDecoder reads uvarint fields, remembering the first error.
type bodyDecoder struct {
	r     *bufio.Reader
	limit uint64
	read  uint64
	err   error
}

func (d *bodyDecoder) ReadByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err == nil {
		d.read++
	}
	return b, err
}

func (d *bodyDecoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(d)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		d.err = err
	}
	return v
}

// count reads a length prefix that cannot exceed the body size.
func (d *bodyDecoder) count() uint64 {
	n := d.uvarint()
	if d.err == nil && n > d.limit {
		d.err = fmt.Errorf("length %d exceeds body size %d", n, d.limit)
		return 0
	}
	return n
}

func (d *bodyDecoder) uint32() uint32 {
	v := d.uvarint()
	if d.err == nil && v > uint64(^uint32(0)) {
		d.err = fmt.Errorf("value %d overflows uint32", v)
	}
	return uint32(v)
}

func (d *bodyDecoder) str() string {
	n := d.count()
	if d.err != nil || n == 0 {
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = io.ErrUnexpectedEOF
		return ""
	}
	d.read += n
	return string(b)
}
