// Package kmer packs DNA windows into integer keys, two bits per base, and
// derives reverse-complement key sets without rescanning the sequence.
package kmer

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
)

// Key is a packed k-mer. Base i of the window occupies bit pair i, so the
// last base scanned is the most significant pair.
type Key = uint32

const (
	MinSize = 1
	// MaxSize is bounded by the sentinel 4^k still fitting in a Key.
	MaxSize = 15
)

// Kmerizer converts DNA strings to deduplicated key lists for one k.
type Kmerizer struct {
	k       int
	numKeys Key
}

// New returns a Kmerizer for windows of length k.
func New(k int) (*Kmerizer, error) {
	if k < MinSize || k > MaxSize {
		return nil, apperrors.Newf(apperrors.ErrConfig,
			"kmer size = %d: value must be in the range [%d,%d]", k, MinSize, MaxSize)
	}
	return &Kmerizer{
		k:       k,
		numKeys: 1 << (uint(k) << 1),
	}, nil
}

// K returns the window length.
func (z *Kmerizer) K() int {
	return z.k
}

// KeySpaceSize returns 4^k, the number of valid keys.
func (z *Kmerizer) KeySpaceSize() Key {
	return z.numKeys
}

// Sentinel is the key given to windows containing a non-ACGTU base.
func (z *Kmerizer) Sentinel() Key {
	return z.numKeys
}

// Encode returns the unique keys of seq in first-occurrence order.
// Sequences shorter than k produce an empty list.
func (z *Kmerizer) Encode(seq string) []Key {
	if len(seq) < z.k {
		return []Key{}
	}
	n := len(seq) - z.k + 1
	keys := make([]Key, 0, n)
	seen := make(map[Key]struct{}, n)
	for i := 0; i < n; i++ {
		key := z.encodeWindow(seq[i : i+z.k])
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

func (z *Kmerizer) encodeWindow(window string) Key {
	var key Key
	for i := 0; i < len(window); i++ {
		shift := uint(i) << 1
		switch window[i] {
		case 'A', 'a':
		case 'C', 'c':
			key |= 1 << shift
		case 'G', 'g':
			key |= 2 << shift
		case 'T', 't', 'U', 'u':
			key |= 3 << shift
		default:
			return z.numKeys
		}
	}
	return key
}

// ReverseComplement maps every key to the key of its reverse-complemented
// window. The sentinel maps to itself.
func (z *Kmerizer) ReverseComplement(keys []Key) []Key {
	out := make([]Key, len(keys))
	for i, key := range keys {
		out[i] = z.reverseComplementKey(key)
	}
	return out
}

func (z *Kmerizer) reverseComplementKey(key Key) Key {
	if key == z.numKeys {
		return key
	}
	comp := ^key
	var rc Key
	for i := 0; i < z.k; i++ {
		rc <<= 2
		rc |= comp & 3
		comp >>= 2
	}
	return rc
}
