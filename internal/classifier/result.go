package classifier

// Ambiguous is the name reported for a level whose best hits disagree.
const Ambiguous = "AMBIGUOUS"

// Orientation is the strand of a query that produced the reported hit.
type Orientation string

const (
	Forward Orientation = "forward"
	Reverse Orientation = "reverse"
)

// Level is the assignment at one taxonomy level.
type Level struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	// Candidates lists the competing names, sorted, when the level is
	// ambiguous.
	Candidates []string `json:"candidates,omitempty"`
}

// IsAmbiguous reports whether the best hits disagree at this level.
func (l Level) IsAmbiguous() bool {
	return l.Candidates != nil
}

// Result is the classification of one query. Levels[0] is the most
// specific taxonomy level, matching the order of the reference headers.
type Result struct {
	Ordinal     int64       `json:"ordinal"`
	QueryID     string      `json:"query_id"`
	Score       float64     `json:"score"`
	Orientation Orientation `json:"orientation"`
	Levels      []Level     `json:"levels"`
}

// Verdict is the outcome of the two-strand search before bootstrapping.
// It depends only on the index and the query sequence, which makes it
// safe to cache.
type Verdict struct {
	Orientation Orientation `json:"orientation"`
	Score       float64     `json:"score"`
	// Unique holds the annotation id per level, or -1 when ambiguous.
	Unique     []int64    `json:"unique"`
	Candidates [][]string `json:"candidates"`
}
