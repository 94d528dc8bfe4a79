package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/kmer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
)

// dictionary interns the names of one taxonomy level. The first name seen
// gets id 0 and ids are never reused.
type dictionary struct {
	names []string
	ids   map[string]AnnotationID
}

func newDictionary() *dictionary {
	return &dictionary{ids: make(map[string]AnnotationID)}
}

func (d *dictionary) intern(name string) AnnotationID {
	if id, ok := d.ids[name]; ok {
		return id
	}
	id := AnnotationID(len(d.names))
	d.names = append(d.names, name)
	d.ids[name] = id
	return id
}

// Database is the inverted k-mer index over the reference sequences. It is
// mutated only while it is built; afterwards Search is safe for concurrent
// use without locking.
type Database struct {
	k            int
	numSequences uint32
	dicts        []*dictionary
	annotations  [][]AnnotationID
	buckets      []PostingList

	scratch     sync.Pool
	fingerprint string
	fpOnce      sync.Once
}

// NewBuckets allocates 4^k+1 empty posting lists. The estimated footprint of
// the bucket array is checked against limit (0 disables the check) and an
// allocation the runtime refuses is reported as a resource error.
func NewBuckets(numBuckets uint64, limit uint64) (buckets []PostingList, err error) {
	footprint := numBuckets * uint64(unsafe.Sizeof(PostingList(nil)))
	if limit > 0 && footprint > limit {
		return nil, apperrors.Newf(apperrors.ErrResource,
			"could not allocate %d k-mer buckets (%d bytes, limit %d)", numBuckets, footprint, limit)
	}
	defer func() {
		if r := recover(); r != nil {
			buckets = nil
			err = apperrors.Newf(apperrors.ErrResource, "could not allocate %d k-mer buckets: %v", numBuckets, r)
		}
	}()
	return make([]PostingList, numBuckets), nil
}

func newDatabase(k int, numLevels int, buckets []PostingList) *Database {
	db := &Database{
		k:           k,
		dicts:       make([]*dictionary, numLevels),
		annotations: make([][]AnnotationID, numLevels),
		buckets:     buckets,
	}
	for i := range db.dicts {
		db.dicts[i] = newDictionary()
	}
	return db
}

// commit adds one reference record. The caller serialises commits.
func (db *Database) commit(ordinal int64, header string, keys []kmer.Key) error {
	fields := strings.Split(header, "\t")
	if len(fields)-1 != len(db.dicts) {
		return apperrors.Newf(apperrors.ErrFormat,
			"invalid sequence header in record %d: expected %d annotation fields, got %d: %q",
			ordinal, len(db.dicts), len(fields)-1, header)
	}
	if db.numSequences == math.MaxUint32 {
		return apperrors.New(apperrors.ErrResource, "too many reference sequences")
	}
	for level, name := range fields[1:] {
		db.annotations[level] = append(db.annotations[level], db.dicts[level].intern(name))
	}
	id := db.numSequences
	for _, key := range keys {
		db.buckets[key] = append(db.buckets[key], id)
	}
	db.numSequences++
	return nil
}

// K returns the k-mer size the index was built with.
func (db *Database) K() int {
	return db.k
}

// NumSequences returns the number of reference sequences.
func (db *Database) NumSequences() int {
	return int(db.numSequences)
}

// NumLevels returns the number of taxonomy levels per reference.
func (db *Database) NumLevels() int {
	return len(db.dicts)
}

// AnnotationName resolves an annotation id at level.
func (db *Database) AnnotationName(level int, id AnnotationID) string {
	return db.dicts[level].names[id]
}

// Dictionary returns the names of one level in id order.
func (db *Database) Dictionary(level int) []string {
	return db.dicts[level].names
}

// Bucket returns the posting list of key.
func (db *Database) Bucket(key kmer.Key) PostingList {
	return db.buckets[key]
}

// Search scores every reference by the number of query keys it shares and
// returns all references tied at the best score. An empty query scores 0
// and ties every reference.
func (db *Database) Search(keys []kmer.Key) Hit {
	scores := db.getScratch()
	defer db.putScratch(scores)

	var top uint32
	for _, key := range keys {
		for _, id := range db.buckets[key] {
			scores[id]++
			if scores[id] > top {
				top = scores[id]
			}
		}
	}

	hit := Hit{Annotations: make([][]AnnotationID, len(db.dicts))}
	for id, score := range scores {
		if score != top {
			continue
		}
		for level := range hit.Annotations {
			hit.Annotations[level] = append(hit.Annotations[level], db.annotations[level][id])
		}
	}
	if len(keys) > 0 {
		hit.Score = float64(top) / float64(len(keys))
	}
	return hit
}

func (db *Database) getScratch() []uint32 {
	if v, ok := db.scratch.Get().(*[]uint32); ok {
		s := *v
		clear(s)
		return s
	}
	return make([]uint32, db.numSequences)
}

func (db *Database) putScratch(s []uint32) {
	db.scratch.Put(&s)
}

// Contents exposes the index state for serialisation. The returned slices
// are shared and must not be modified.
func (db *Database) Contents() *Contents {
	dicts := make([][]string, len(db.dicts))
	for i, d := range db.dicts {
		dicts[i] = d.names
	}
	return &Contents{
		K:            db.k,
		NumSequences: db.numSequences,
		Dictionaries: dicts,
		Annotations:  db.annotations,
		Buckets:      db.buckets,
	}
}

// FromContents rebuilds a Database from decoded snapshot contents, checking
// that every id it references is in range.
func FromContents(c *Contents) (*Database, error) {
	if c.K < kmer.MinSize || c.K > kmer.MaxSize {
		return nil, apperrors.Newf(apperrors.ErrFormat, "snapshot kmer size %d out of range", c.K)
	}
	if uint64(len(c.Buckets)) != c.KeySpace() {
		return nil, apperrors.Newf(apperrors.ErrFormat,
			"snapshot has %d buckets, want %d", len(c.Buckets), c.KeySpace())
	}
	if len(c.Buckets[len(c.Buckets)-1]) != 0 {
		return nil, apperrors.New(apperrors.ErrFormat, "snapshot sentinel bucket is not empty")
	}
	if c.NumLevels() == 0 || len(c.Annotations) != c.NumLevels() {
		return nil, apperrors.Newf(apperrors.ErrFormat,
			"snapshot has %d dictionaries and %d annotation arrays", c.NumLevels(), len(c.Annotations))
	}
	db := newDatabase(c.K, c.NumLevels(), c.Buckets)
	db.numSequences = c.NumSequences
	for level, names := range c.Dictionaries {
		for _, name := range names {
			db.dicts[level].intern(name)
		}
		if len(db.dicts[level].names) != len(names) {
			return nil, apperrors.Newf(apperrors.ErrFormat, "snapshot level %d has duplicate names", level)
		}
		ids := c.Annotations[level]
		if len(ids) != int(c.NumSequences) {
			return nil, apperrors.Newf(apperrors.ErrFormat,
				"snapshot level %d has %d annotations for %d sequences", level, len(ids), c.NumSequences)
		}
		for _, id := range ids {
			if int(id) >= len(names) {
				return nil, apperrors.Newf(apperrors.ErrFormat, "snapshot level %d annotation id %d out of range", level, id)
			}
		}
		db.annotations[level] = ids
	}
	for key, list := range c.Buckets {
		for _, id := range list {
			if id >= c.NumSequences {
				return nil, apperrors.Newf(apperrors.ErrFormat, "snapshot bucket %d references sequence %d", key, id)
			}
		}
	}
	return db, nil
}

// Fingerprint identifies the exact index contents. Builds from the same
// records with more than one thread may number sequences differently and so
// get different fingerprints.
func (db *Database) Fingerprint() string {
	db.fpOnce.Do(func() {
		h := xxhash.New()
		var buf [binary.MaxVarintLen64]byte
		put := func(v uint64) {
			n := binary.PutUvarint(buf[:], v)
			h.Write(buf[:n])
		}
		put(uint64(db.k))
		put(uint64(db.numSequences))
		for level, d := range db.dicts {
			put(uint64(len(d.names)))
			for _, name := range d.names {
				put(uint64(len(name)))
				h.WriteString(name)
			}
			for _, id := range db.annotations[level] {
				put(uint64(id))
			}
		}
		for _, list := range db.buckets {
			put(uint64(len(list)))
			for _, id := range list {
				put(uint64(id))
			}
		}
		db.fingerprint = fmt.Sprintf("%016x", h.Sum64())
	})
	return db.fingerprint
}
