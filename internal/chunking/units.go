package chunking

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// maxOverlapRunes caps the backward overlap applied when assembling chunks
// from pre-split units.
const maxOverlapRunes = 500

// sentenceTerminators end a sentence unit. Both CJK and Latin forms count.
var sentenceTerminators = map[rune]bool{
	'。': true, '！': true, '？': true,
	'!': true, '?': true,
	'；': true, ';': true,
}

var blankLinePattern = regexp.MustCompile(`\n{2,}`)

// runeText provides rune-indexed views over a string. Chunk offsets are
// rune positions, while substring search is byte based; this keeps the two
// in sync without rescanning.
type runeText struct {
	s      string
	byteOf []int // byteOf[i] is the byte offset of rune i; one extra sentinel entry
}

func newRuneText(s string) runeText {
	offsets := make([]int, 0, len(s)+1)
	for i := range s {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(s))
	return runeText{s: s, byteOf: offsets}
}

func (t runeText) Len() int { return len(t.byteOf) - 1 }

// Slice returns the substring covering runes [i, j).
func (t runeText) Slice(i, j int) string {
	return t.s[t.byteOf[i]:t.byteOf[j]]
}

// IndexFrom returns the rune index of the first occurrence of sub at or
// after rune position from, or -1.
func (t runeText) IndexFrom(sub string, from int) int {
	if from < 0 {
		from = 0
	}
	if from > t.Len() {
		return -1
	}
	b := strings.Index(t.s[t.byteOf[from]:], sub)
	if b < 0 {
		return -1
	}
	abs := t.byteOf[from] + b
	return sort.SearchInts(t.byteOf, abs)
}

// splitLongUnit hard-splits a unit into chunkSize-rune pieces. Units at or
// under the limit pass through untouched.
func splitLongUnit(unit string, chunkSize int) []string {
	runes := []rune(unit)
	if len(runes) <= chunkSize {
		return []string{unit}
	}
	pieces := make([]string, 0, (len(runes)+chunkSize-1)/chunkSize)
	for start := 0; start < len(runes); start += chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

// mergeUnits greedily joins adjacent units with a single space while the
// joined form stays within chunkSize runes.
func mergeUnits(units []string, chunkSize int) []string {
	var merged []string
	current := ""
	currentLen := 0
	for _, unit := range units {
		unitLen := utf8.RuneCountInString(unit)
		if current == "" {
			current = unit
			currentLen = unitLen
			continue
		}
		if currentLen+1+unitLen <= chunkSize {
			current = current + " " + unit
			currentLen += 1 + unitLen
		} else {
			merged = append(merged, current)
			current = unit
			currentLen = unitLen
		}
	}
	if current != "" {
		merged = append(merged, current)
	}
	return merged
}

// sentenceUnits splits normalized text into sentence units, hard-splits any
// unit over chunkSize, and merges neighbors back up to the limit.
func sentenceUnits(text string, chunkSize int) []string {
	clean := Normalize(text)
	if clean == "" {
		return nil
	}

	var units []string
	var b strings.Builder
	flush := func() {
		unit := strings.TrimSpace(b.String())
		if unit != "" {
			units = append(units, unit)
		}
		b.Reset()
	}
	for _, r := range clean {
		b.WriteRune(r)
		if sentenceTerminators[r] {
			flush()
		}
	}
	flush()

	if len(units) == 0 {
		return splitLongUnit(clean, chunkSize)
	}

	var flattened []string
	for _, unit := range units {
		flattened = append(flattened, splitLongUnit(unit, chunkSize)...)
	}
	return mergeUnits(flattened, chunkSize)
}

// paragraphUnits splits raw text on blank-line boundaries. Text without
// paragraph structure falls back to sentence splitting.
func paragraphUnits(text string, chunkSize int) []string {
	raw := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if raw == "" {
		return nil
	}

	var units []string
	for _, part := range blankLinePattern.Split(raw, -1) {
		if p := Normalize(part); p != "" {
			units = append(units, p)
		}
	}
	if len(units) <= 1 {
		return sentenceUnits(text, chunkSize)
	}

	var flattened []string
	for _, unit := range units {
		flattened = append(flattened, splitLongUnit(unit, chunkSize)...)
	}
	return mergeUnits(flattened, chunkSize)
}

// buildFromUnits locates each unit in the normalized text and emits a chunk
// per unit. Every chunk after the first reaches back by up to overlap runes
// (capped at maxOverlapRunes) to preserve context across boundaries.
func buildFromUnits(text string, units []string, overlap int) []Chunk {
	clean := newRuneText(Normalize(text))
	if clean.Len() == 0 || len(units) == 0 {
		return nil
	}

	safeOverlap := overlap
	if safeOverlap > maxOverlapRunes {
		safeOverlap = maxOverlapRunes
	}

	chunks := make([]Chunk, 0, len(units))
	cursor := 0
	for i, unit := range units {
		start := clean.IndexFrom(unit, cursor)
		if start < 0 {
			start = cursor
		}
		end := start + utf8.RuneCountInString(unit)
		if end > clean.Len() {
			end = clean.Len()
		}
		contentStart := start
		if i > 0 {
			contentStart = start - safeOverlap
			if contentStart < 0 {
				contentStart = 0
			}
		}
		chunks = append(chunks, Chunk{
			Start:   contentStart,
			End:     end,
			Length:  end - contentStart,
			Content: clean.Slice(contentStart, end),
		})
		cursor = end
	}
	return chunks
}
