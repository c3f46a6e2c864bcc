package core

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for stored passages.
// It is derived from passage content so identical chunks collapse to one ID.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Passage is one chunk of an ingested document.
// Vector is populated by the ingestion pipeline and is unit length once stored.
type Passage struct {
	Id         ID                `json:"id"`
	Content    string            `json:"content"`
	Source     string            `json:"source,omitempty"`   // Path of the document the chunk came from
	Metadata   map[string]string `json:"metadata,omitempty"` // Loader metadata (page, row, ...)
	Vector     []float32         `json:"-"`
	InsertedAt time.Time         `json:"inserted_at,omitzero"`
}

// ScoredPassage is a passage returned from a similarity search.
type ScoredPassage struct {
	Passage *Passage
	Score   float32
}

// NewPassage builds a passage whose ID is derived from its content.
func NewPassage(content, source string, metadata map[string]string) *Passage {
	return &Passage{
		Id:       IDFromContent(content),
		Content:  content,
		Source:   source,
		Metadata: metadata,
	}
}

// NormalizeVector returns a unit-length copy of v.
// Zero vectors are returned unchanged.
func NormalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sumSquares == 0 {
		copy(out, v)
		return out
	}
	norm := float32(1.0 / math.Sqrt(sumSquares))
	for i, x := range v {
		out[i] = x * norm
	}
	return out
}

// DotProduct calculates the dot product of two vectors.
// For unit vectors this is the cosine similarity.
func DotProduct(a, b []float32) float32 {
	var sum float32
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// Retrieval is the outcome of a multi-query similarity search.
type Retrieval struct {
	Passages   []*Passage `json:"passages"`   // Deduplicated by ID, first-seen order
	Queries    []string   `json:"queries"`    // Every query that was searched, original first
	Candidates int        `json:"candidates"` // Hits before deduplication
}
