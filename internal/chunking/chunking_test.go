package chunking

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStrategy(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Strategy
	}{
		{name: "default maps to fixed", input: "default", want: StrategyFixed},
		{name: "fixed", input: "fixed", want: StrategyFixed},
		{name: "sentence", input: "sentence", want: StrategySentence},
		{name: "paragraph", input: "paragraph", want: StrategyParagraph},
		{name: "parent_child", input: "parent_child", want: StrategyParentChild},
		{name: "parent-child", input: "parent-child", want: StrategyParentChild},
		{name: "parentchild", input: "parentchild", want: StrategyParentChild},
		{name: "pageindex", input: "pageindex", want: StrategyPageIndex},
		{name: "page-index", input: "page-index", want: StrategyPageIndex},
		{name: "page_index", input: "page_index", want: StrategyPageIndex},
		{name: "case insensitive", input: "Parent_Child", want: StrategyParentChild},
		{name: "surrounding whitespace", input: "  fixed  ", want: StrategyFixed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveStrategy(tt.input)
			if err != nil {
				t.Fatalf("ResolveStrategy(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ResolveStrategy(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := ResolveStrategy("semantic")
		if !errors.Is(err, ErrUnknownStrategy) {
			t.Fatalf("ResolveStrategy(semantic) error = %v, want ErrUnknownStrategy", err)
		}
		if !strings.Contains(err.Error(), "parent_child") {
			t.Errorf("error should list supported strategies, got %q", err.Error())
		}
	})
}

func TestSupportedStrategies(t *testing.T) {
	got := SupportedStrategies()
	want := []string{"fixed", "pageindex", "paragraph", "parent_child", "sentence"}
	require.Equal(t, want, got)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "whitespace only", input: " \t\n ", want: ""},
		{name: "collapses runs", input: "a  b\t\tc\n\nd", want: "a b c d"},
		{name: "trims edges", input: "  hello world  ", want: "hello world"},
		{name: "cjk fullwidth space", input: "你好　世界", want: "你好 世界"},
		{name: "crlf", input: "line one\r\nline two", want: "line one line two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitFixed(t *testing.T) {
	// 200 copies of "ab cd " normalize to 1199 runes.
	text := strings.Repeat("ab cd ", 200)
	clean := []rune(Normalize(text))
	require.Len(t, clean, 1199)

	chunks, err := Split(text, Options{ChunkSize: 400, Overlap: 50, Strategy: StrategyFixed})
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	wantStarts := []int{0, 350, 700, 1050}
	wantEnds := []int{400, 750, 1100, 1199}
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Index)
		assert.Equal(t, wantStarts[i], c.Start)
		assert.Equal(t, wantEnds[i], c.End)
		assert.Equal(t, wantEnds[i]-wantStarts[i], c.Length)
		assert.Equal(t, string(clean[c.Start:c.End]), c.Content)
		assert.Nil(t, c.Parent)
		assert.Nil(t, c.Section)
	}
}

func TestSplitFixedRuneOffsets(t *testing.T) {
	text := strings.Repeat("中文字符", 50) // 200 runes, no ASCII
	chunks, err := Split(text, Options{ChunkSize: 120, Overlap: 20, Strategy: StrategyFixed})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 120, chunks[0].End)
	assert.Equal(t, 120, len([]rune(chunks[0].Content)))
	assert.Equal(t, 100, chunks[1].Start)
	assert.Equal(t, 200, chunks[1].End)
}

func TestSplitFixedOverlapCappedBelowChunkSize(t *testing.T) {
	// Overlap >= chunk size would stall the window; the step must stay >= 1.
	chunks, err := Split("abcdefghij", Options{ChunkSize: 4, Overlap: 10, Strategy: StrategyFixed})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].Start+1, chunks[i].Start)
	}
}

func TestSplitSentence(t *testing.T) {
	text := "第一句。第二句。第三句。"
	chunks, err := Split(text, Options{ChunkSize: 5, Overlap: 2, Strategy: StrategySentence})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	// First chunk has no backward overlap; later chunks reach back 2 runes.
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 4, chunks[0].End)
	assert.Equal(t, "第一句。", chunks[0].Content)

	assert.Equal(t, 2, chunks[1].Start)
	assert.Equal(t, 8, chunks[1].End)
	assert.Equal(t, "句。第二句。", chunks[1].Content)

	assert.Equal(t, 6, chunks[2].Start)
	assert.Equal(t, 12, chunks[2].End)
	assert.Equal(t, "句。第三句。", chunks[2].Content)
}

func TestSplitSentenceMergesShortSentences(t *testing.T) {
	text := "Stop here! Then go? Done;"
	chunks, err := Split(text, Options{ChunkSize: 100, Overlap: 0, Strategy: StrategySentence})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, Normalize(text), chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len([]rune(Normalize(text))), chunks[0].End)
}

func TestSplitSentenceWithoutTerminators(t *testing.T) {
	// No terminators at all: the whole text is one unit, hard-split by size.
	text := strings.Repeat("word ", 30)
	chunks, err := Split(text, Options{ChunkSize: 60, Overlap: 0, Strategy: StrategySentence})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	clean := []rune(Normalize(text))
	last := chunks[len(chunks)-1]
	assert.Equal(t, len(clean), last.End)
	for _, c := range chunks {
		assert.Equal(t, string(clean[c.Start:c.End]), c.Content)
	}
}

func TestSplitParagraph(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph text.\n\nThird one."
	chunks, err := Split(text, Options{ChunkSize: 25, Overlap: 5, Strategy: StrategyParagraph})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	clean := []rune(Normalize(text))
	require.Len(t, clean, 55)

	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 21, chunks[0].End)
	assert.Equal(t, "First paragraph here.", chunks[0].Content)

	// Paragraph two starts at rune 22; overlap reaches back 5 runes.
	assert.Equal(t, 17, chunks[1].Start)
	assert.Equal(t, 44, chunks[1].End)
	assert.Equal(t, string(clean[17:44]), chunks[1].Content)

	assert.Equal(t, 40, chunks[2].Start)
	assert.Equal(t, 55, chunks[2].End)
}

func TestSplitParagraphFallsBackToSentence(t *testing.T) {
	// A single paragraph is re-split on sentence boundaries.
	text := "One short sentence! Another one follows?"
	chunks, err := Split(text, Options{ChunkSize: 25, Overlap: 0, Strategy: StrategyParagraph})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "One short sentence!", chunks[0].Content)
	assert.Equal(t, "Another one follows?", chunks[1].Content)
}

func TestSplitParentChild(t *testing.T) {
	// Two paragraphs too large to merge into one parent at parent size 90.
	p1 := strings.TrimSpace(strings.Repeat("alpha beta ", 6))
	p2 := strings.TrimSpace(strings.Repeat("gamma delta ", 6))
	text := p1 + "\n\n" + p2
	clean := []rune(Normalize(text))

	chunks, err := Split(text, Options{ChunkSize: 30, Overlap: 0, Strategy: StrategyParentChild})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	parentIDs := map[string]bool{}
	for _, c := range chunks {
		require.NotNil(t, c.Parent)
		assert.Nil(t, c.Section)
		parentIDs[c.Parent.ID] = true

		// Child spans stay inside their parent span.
		assert.GreaterOrEqual(t, c.Start, c.Parent.Start)
		assert.LessOrEqual(t, c.End, c.Parent.End)
		assert.Equal(t, c.Parent.End-c.Parent.Start, c.Parent.Length)
		assert.Equal(t, c.End-c.Start, c.Length)
		assert.Equal(t, string(clean[c.Start:c.End]), c.Content)
	}
	assert.True(t, parentIDs["parent-1"])
	assert.True(t, parentIDs["parent-2"])
	assert.Len(t, parentIDs, 2)
}

func TestSplitParentChildParentSizeCap(t *testing.T) {
	// A very large chunk size still caps the parent at 4000 runes.
	text := strings.Repeat("sentence fragment here! ", 400) // ~9600 runes
	chunks, err := Split(text, Options{ChunkSize: 2000, Overlap: 0, Strategy: StrategyParentChild})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.NotNil(t, c.Parent)
		assert.LessOrEqual(t, c.Parent.Length, 4000)
	}
}

func TestSplitEmptyInput(t *testing.T) {
	for _, strategy := range []Strategy{StrategyFixed, StrategySentence, StrategyParagraph, StrategyParentChild, StrategyPageIndex} {
		t.Run(string(strategy), func(t *testing.T) {
			chunks, err := Split("  \n\t  ", Options{ChunkSize: 400, Overlap: 50, Strategy: strategy})
			require.NoError(t, err)
			assert.Empty(t, chunks)
		})
	}
}

func TestSplitValidation(t *testing.T) {
	t.Run("zero chunk size", func(t *testing.T) {
		_, err := Split("text", Options{ChunkSize: 0, Strategy: StrategyFixed})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidChunkSize))
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := Split("text", Options{ChunkSize: 400, Strategy: "semantic"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownStrategy))
	})

	t.Run("negative overlap treated as zero", func(t *testing.T) {
		chunks, err := Split("first sentence! second sentence!", Options{ChunkSize: 16, Overlap: -10, Strategy: StrategySentence})
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, 16, chunks[1].Start) // no backward extension
	})
}

func TestBuildFromUnitsOverlapCap(t *testing.T) {
	// Requested overlap beyond 500 runes is capped.
	var sentences []string
	for i := 0; i < 3; i++ {
		sentences = append(sentences, strings.Repeat("x", 600)+"!")
	}
	text := strings.Join(sentences, " ")

	chunks, err := Split(text, Options{ChunkSize: 700, Overlap: 9999, Strategy: StrategySentence})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].Start)
	// Second unit starts at rune 602; the cap limits the reach-back to 500.
	assert.Equal(t, 102, chunks[1].Start)
}
