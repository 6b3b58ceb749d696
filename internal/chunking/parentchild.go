package chunking

import "fmt"

// maxParentRunes bounds the size of a parent block regardless of how large
// the requested chunk size is.
const maxParentRunes = 4000

// splitParentChild emits retrieval-sized child chunks that each carry a
// reference to the larger parent block containing them. Parents are built
// from paragraph units without overlap; children are sentence units split
// within each parent, with overlap applied child-to-child.
func splitParentChild(text string, chunkSize, overlap int) []Chunk {
	clean := newRuneText(Normalize(text))
	if clean.Len() == 0 {
		return nil
	}

	parentSize := chunkSize * 3
	if parentSize < chunkSize {
		parentSize = chunkSize
	}
	if parentSize > maxParentRunes {
		parentSize = maxParentRunes
	}

	parentUnits := paragraphUnits(text, parentSize)
	if len(parentUnits) == 0 {
		parentUnits = sentenceUnits(text, parentSize)
	}
	parents := buildFromUnits(text, parentUnits, 0)
	if len(parents) == 0 {
		return nil
	}

	var children []Chunk
	for i, parent := range parents {
		parentID := fmt.Sprintf("parent-%d", i+1)
		parentContent := clean.Slice(parent.Start, parent.End)

		childUnits := sentenceUnits(parentContent, chunkSize)
		if len(childUnits) == 0 {
			childUnits = splitLongUnit(parentContent, chunkSize)
		}

		for _, child := range buildFromUnits(parentContent, childUnits, overlap) {
			start := parent.Start + child.Start
			end := parent.Start + child.End
			children = append(children, Chunk{
				Start:   start,
				End:     end,
				Length:  end - start,
				Content: clean.Slice(start, end),
				Parent: &ParentInfo{
					ID:     parentID,
					Start:  parent.Start,
					End:    parent.End,
					Length: parent.End - parent.Start,
				},
			})
		}
	}
	return children
}
