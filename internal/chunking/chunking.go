package chunking

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

var (
	// ErrUnknownStrategy is returned when a strategy name does not resolve
	// through the alias table.
	ErrUnknownStrategy = errors.New("chunking: unknown strategy")

	// ErrInvalidChunkSize is returned when the chunk size is not positive.
	ErrInvalidChunkSize = errors.New("chunking: chunk size must be positive")
)

// Strategy identifies a chunking strategy in canonical form.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategySentence    Strategy = "sentence"
	StrategyParagraph   Strategy = "paragraph"
	StrategyParentChild Strategy = "parent_child"
	StrategyPageIndex   Strategy = "pageindex"
)

// strategyAliases maps accepted strategy spellings to canonical strategies.
var strategyAliases = map[string]Strategy{
	"default":      StrategyFixed,
	"fixed":        StrategyFixed,
	"sentence":     StrategySentence,
	"paragraph":    StrategyParagraph,
	"parent-child": StrategyParentChild,
	"parent_child": StrategyParentChild,
	"parentchild":  StrategyParentChild,
	"pageindex":    StrategyPageIndex,
	"page-index":   StrategyPageIndex,
	"page_index":   StrategyPageIndex,
}

// ResolveStrategy maps a user-supplied strategy name to its canonical
// Strategy. Matching is case-insensitive and tolerant of surrounding
// whitespace. Unknown names return ErrUnknownStrategy; there is no silent
// default.
func ResolveStrategy(name string) (Strategy, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if s, ok := strategyAliases[normalized]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnknownStrategy, name, strings.Join(SupportedStrategies(), ", "))
}

// SupportedStrategies returns the canonical strategy names in sorted order.
func SupportedStrategies() []string {
	names := []string{
		string(StrategyFixed),
		string(StrategySentence),
		string(StrategyParagraph),
		string(StrategyParentChild),
		string(StrategyPageIndex),
	}
	sort.Strings(names)
	return names
}

// ParentInfo carries the enclosing parent span for chunks produced by the
// parent_child strategy. Offsets are rune positions into the normalized
// text, so Start/End always contain the child's own span.
type ParentInfo struct {
	ID     string
	Start  int
	End    int
	Length int
}

// Chunk is one ordered span of the normalized input text.
//
// Start/End/Length are rune offsets and counts. Exactly one of Parent or
// Section is non-nil for parent_child and pageindex output respectively;
// both are nil for the flat strategies.
type Chunk struct {
	Index   int // 1-based position in the output sequence
	Start   int
	End     int
	Length  int
	Content string

	Parent  *ParentInfo
	Section *Section
}

// Section describes the pageindex node a chunk belongs to.
type Section struct {
	NodeID       string
	NodePath     string
	Level        int
	PageStart    int
	PageEnd      int
	CharStart    int
	CharEnd      int
	SectionTitle string
}

// Options configures a Split call.
type Options struct {
	// ChunkSize is the target chunk length in runes. Must be positive.
	ChunkSize int

	// Overlap is the number of runes a chunk may reach back into its
	// predecessor. Negative values are treated as zero.
	Overlap int

	// Strategy is the canonical strategy, normally obtained from
	// ResolveStrategy.
	Strategy Strategy
}

// Validate checks the options. The strategy must be canonical and the chunk
// size positive.
func (o Options) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, o.ChunkSize)
	}
	if _, err := ResolveStrategy(string(o.Strategy)); err != nil {
		return err
	}
	return nil
}

// Split divides text into ordered chunks according to opts.
//
// Empty or whitespace-only input yields an empty slice for every strategy.
// The returned chunks are indexed 1..n in output order.
func Split(text string, opts Options) ([]Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	overlap := opts.Overlap
	if overlap < 0 {
		overlap = 0
	}

	var chunks []Chunk
	switch opts.Strategy {
	case StrategyFixed:
		chunks = splitFixed(text, opts.ChunkSize, overlap)
	case StrategySentence:
		units := sentenceUnits(text, opts.ChunkSize)
		chunks = buildFromUnits(text, units, overlap)
	case StrategyParagraph:
		units := paragraphUnits(text, opts.ChunkSize)
		chunks = buildFromUnits(text, units, overlap)
	case StrategyParentChild:
		chunks = splitParentChild(text, opts.ChunkSize, overlap)
	case StrategyPageIndex:
		chunks = splitPageIndex(text, opts.ChunkSize, overlap)
	}

	for i := range chunks {
		chunks[i].Index = i + 1
	}
	return chunks, nil
}

// Normalize collapses every run of whitespace in text to a single space and
// trims the result. Chunk offsets are rune positions into this form.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// splitFixed produces sliding windows of chunkSize runes over the
// normalized text. The window advances by chunkSize minus the effective
// overlap, and always by at least one rune.
func splitFixed(text string, chunkSize, overlap int) []Chunk {
	clean := []rune(Normalize(text))
	if len(clean) == 0 {
		return nil
	}

	maxOverlap := chunkSize - 1
	if maxOverlap < 0 {
		maxOverlap = 0
	}
	safeOverlap := overlap
	if safeOverlap > maxOverlap {
		safeOverlap = maxOverlap
	}
	step := chunkSize - safeOverlap
	if step < 1 {
		step = 1
	}

	var chunks []Chunk
	for start := 0; start < len(clean); start += step {
		end := start + chunkSize
		if end > len(clean) {
			end = len(clean)
		}
		content := string(clean[start:end])
		chunks = append(chunks, Chunk{
			Start:   start,
			End:     end,
			Length:  end - start,
			Content: content,
		})
	}
	return chunks
}
