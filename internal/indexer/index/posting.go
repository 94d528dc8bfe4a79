package index

// SequenceID is the dense id of a reference sequence, assigned in load order.
type SequenceID = uint32

// AnnotationID is the dense id of a name within one taxonomy level.
type AnnotationID = uint32

// PostingList holds the ids of every reference sequence containing a k-mer.
// Ids are appended in commit order, so a list is strictly increasing.
type PostingList []SequenceID

// Hit is the result of a search. Annotations has one slice per taxonomy
// level with one entry for every tied sequence, duplicates retained.
type Hit struct {
	Score       float64
	Annotations [][]AnnotationID
}

// Ties returns the number of reference sequences sharing the best score.
func (h Hit) Ties() int {
	if len(h.Annotations) == 0 {
		return 0
	}
	return len(h.Annotations[0])
}

// Contents is the complete state of a Database, shared read-only with the
// snapshot codec.
type Contents struct {
	K            int
	NumSequences uint32
	Dictionaries [][]string
	Annotations  [][]AnnotationID
	Buckets      []PostingList
}

// NumLevels returns the number of taxonomy levels.
func (c *Contents) NumLevels() int {
	return len(c.Dictionaries)
}

// KeySpace returns the bucket count expected for c.K, including the
// sentinel bucket.
func (c *Contents) KeySpace() uint64 {
	return uint64(1)<<(2*uint(c.K)) + 1
}
