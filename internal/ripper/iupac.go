package ripper

import (
	"regexp"
	"strings"
)

// iupacClasses maps ambiguity codes to the bases they stand for. U pairs
// with every class containing T.
var iupacClasses = map[byte]string{
	'R': "[AG]",
	'Y': "[CTU]",
	'K': "[GTU]",
	'M': "[AC]",
	'S': "[CG]",
	'W': "[ATU]",
	'B': "[CGTU]",
	'D': "[AGTU]",
	'H': "[ACTU]",
	'V': "[ACG]",
	'N': "[ACGTU]",
}

var iupacComplement = map[byte]byte{
	'A': 'T', 'T': 'A', 'U': 'A', 'C': 'G', 'G': 'C',
	'R': 'Y', 'Y': 'R', 'K': 'M', 'M': 'K',
	'B': 'V', 'V': 'B', 'D': 'H', 'H': 'D',
	'S': 'S', 'W': 'W', 'N': 'N',
}

// expandIUPAC turns a primer into a regular expression with each ambiguity
// code replaced by its character class. Matching is meant to be
// case-insensitive.
func expandIUPAC(primer string) string {
	var b strings.Builder
	for i := 0; i < len(primer); i++ {
		c := upper(primer[i])
		if class, ok := iupacClasses[c]; ok {
			b.WriteString(class)
			continue
		}
		b.WriteString(regexp.QuoteMeta(primer[i : i+1]))
	}
	return b.String()
}

// reverseComplement reverses primer and complements every IUPAC code,
// keeping the case of each base. Unknown characters are kept as is.
func reverseComplement(primer string) string {
	out := make([]byte, len(primer))
	for i := 0; i < len(primer); i++ {
		c := primer[len(primer)-1-i]
		comp, ok := iupacComplement[upper(c)]
		switch {
		case !ok:
			comp = c
		case c >= 'a' && c <= 'z':
			comp += 'a' - 'A'
		}
		out[i] = comp
	}
	return string(out)
}

// permute returns an alternation matching primer exactly or with a single
// insertion, internal substitution or deletion.
func permute(primer string) string {
	n := len(primer)
	alts := []string{expandIUPAC(primer)}
	for x := 1; x < n; x++ {
		alts = append(alts, expandIUPAC(primer[:x]+"N"+primer[x:]))
	}
	for x := 1; x < n-1; x++ {
		alts = append(alts, expandIUPAC(primer[:x]+"N"+primer[x+1:]))
	}
	for x := 0; x < n; x++ {
		alts = append(alts, expandIUPAC(primer[:x]+primer[x+1:]))
	}
	return "(?:" + strings.Join(alts, "|") + ")"
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
