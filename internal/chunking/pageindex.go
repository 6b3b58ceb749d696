package chunking

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// defaultSectionTitle labels content that precedes the first detected
// heading, or documents with no headings at all.
const defaultSectionTitle = "document body"

var (
	markdownHeadingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	chapterHeadingPattern  = regexp.MustCompile(`^第[一二三四五六七八九十百千万零两0-9]+[章节部分篇卷][\s:：、.．-]*(.+)?$`)
	numberedHeadingPattern = regexp.MustCompile(`^(\d+(?:\.\d+){0,4})[\s、.．:：\)]*(.+)$`)
	pageMarkerPattern      = regexp.MustCompile(`(?i)第\s*(\d+)\s*页|page\s*(\d+)`)
	headingWordPattern     = regexp.MustCompile(`[A-Za-z\x{4e00}-\x{9fff}]`)
)

// pageSection is one heading-delimited region of a document, with its
// position in the heading tree and the page range it spans.
type pageSection struct {
	Title     string
	Level     int
	NodeID    string
	NodePath  string
	PageStart int // 0 while no page marker has been seen
	PageEnd   int
	Content   string
}

// extractPageNo pulls a page number out of a line containing a marker such
// as "第 12 页" or "Page 12". Returns 0 when the line carries none.
func extractPageNo(line string) int {
	m := pageMarkerPattern.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	value := m[1]
	if value == "" {
		value = m[2]
	}
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// detectHeading reports whether a line is a heading, returning its level
// (1..4) and title. Markdown hashes, CJK chapter markers, and dotted
// numbering are recognized, in that order.
func detectHeading(line string) (int, string, bool) {
	stripped := strings.TrimSpace(line)
	if stripped == "" {
		return 0, "", false
	}

	if m := markdownHeadingPattern.FindStringSubmatch(stripped); m != nil {
		level := len(m[1])
		if level > 4 {
			level = 4
		}
		title := Normalize(m[2])
		if title == "" {
			return 0, "", false
		}
		return level, title, true
	}

	if chapterHeadingPattern.MatchString(stripped) {
		return 1, Normalize(stripped), true
	}

	if m := numberedHeadingPattern.FindStringSubmatch(stripped); m != nil {
		number := m[1]
		title := Normalize(m[2])
		if title == "" || !headingWordPattern.MatchString(title) {
			return 0, "", false
		}
		level := strings.Count(number, ".") + 1
		if level > 4 {
			level = 4
		}
		return level, number + " " + title, true
	}

	return 0, "", false
}

// buildPageSections walks the document line by line, splitting it at
// detected headings. Node IDs are hierarchical counters (node-2-1 is the
// first subsection under the second top-level section), node paths join the
// active heading stack, and page ranges are forward-filled so every section
// reports a positive page span.
func buildPageSections(text string) []pageSection {
	raw := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if raw == "" {
		return nil
	}

	var sections []pageSection
	levelCounters := [4]int{}
	var headingStack []string
	lastSeenPage := 1
	headingSeen := false

	cur := pageSection{Title: defaultSectionTitle, Level: 1, NodePath: defaultSectionTitle}
	var curLines []string

	flush := func() {
		content := Normalize(strings.Join(curLines, "\n"))
		if content == "" {
			return
		}
		// Content ahead of the first heading claims a top-level counter
		// of its own, so the following heading cannot reuse its node id.
		if cur.NodeID == "" {
			levelCounters[0]++
			cur.NodeID = "node-" + strconv.Itoa(levelCounters[0])
		}
		cur.Content = content
		sections = append(sections, cur)
	}

	for _, line := range strings.Split(raw, "\n") {
		stripped := strings.TrimSpace(line)

		if page := extractPageNo(stripped); page > 0 {
			lastSeenPage = page
			if cur.PageStart == 0 {
				cur.PageStart = page
			}
			cur.PageEnd = page
		}

		if level, title, ok := detectHeading(stripped); ok {
			headingSeen = true
			flush()

			if level < 1 {
				level = 1
			}
			if level > 4 {
				level = 4
			}
			if level > len(headingStack)+1 {
				level = len(headingStack) + 1
			}
			if level <= len(headingStack) {
				headingStack = headingStack[:level-1]
			}
			headingStack = append(headingStack, title)

			levelCounters[level-1]++
			for i := level; i < len(levelCounters); i++ {
				levelCounters[i] = 0
			}
			seq := make([]string, 0, level)
			for _, v := range levelCounters[:level] {
				if v > 0 {
					seq = append(seq, strconv.Itoa(v))
				}
			}

			cur = pageSection{
				Title:     title,
				Level:     level,
				NodeID:    "node-" + strings.Join(seq, "-"),
				NodePath:  strings.Join(headingStack, " > "),
				PageStart: lastSeenPage,
				PageEnd:   lastSeenPage,
			}
			curLines = nil
			continue
		}

		if stripped != "" || len(curLines) > 0 {
			curLines = append(curLines, line)
		}
	}
	flush()

	// Without a single heading there is no structure worth indexing; the
	// caller falls back to parent/child splitting.
	if !headingSeen || len(sections) == 0 {
		return nil
	}

	currentPage := 1
	for i := range sections {
		s := &sections[i]
		if s.PageStart > 0 {
			currentPage = s.PageStart
		} else {
			s.PageStart = currentPage
		}
		if s.PageEnd > 0 {
			if s.PageEnd > currentPage {
				currentPage = s.PageEnd
			}
		} else {
			s.PageEnd = s.PageStart
		}
	}
	return sections
}

// splitPageIndex chunks a document section by section, preserving the
// heading tree on every chunk. Documents without any detectable structure
// fall back to parent/child splitting.
func splitPageIndex(text string, chunkSize, overlap int) []Chunk {
	clean := newRuneText(Normalize(text))
	if clean.Len() == 0 {
		return nil
	}

	sections := buildPageSections(text)
	if len(sections) == 0 {
		return splitParentChild(text, chunkSize, overlap)
	}

	var chunks []Chunk
	cursor := 0
	for _, sec := range sections {
		if sec.Content == "" {
			continue
		}

		secStart := clean.IndexFrom(sec.Content, cursor)
		if secStart < 0 {
			secStart = clean.IndexFrom(sec.Content, 0)
		}
		if secStart < 0 {
			secStart = cursor
		}
		secEnd := secStart + utf8.RuneCountInString(sec.Content)
		if secEnd > clean.Len() {
			secEnd = clean.Len()
		}
		cursor = secEnd

		units := paragraphUnits(sec.Content, chunkSize)
		if len(units) == 0 {
			units = sentenceUnits(sec.Content, chunkSize)
		}
		if len(units) == 0 {
			units = splitLongUnit(sec.Content, chunkSize)
		}

		for _, sc := range buildFromUnits(sec.Content, units, overlap) {
			start := secStart + sc.Start
			if start > clean.Len() {
				start = clean.Len()
			}
			end := secStart + sc.End
			if end > clean.Len() {
				end = clean.Len()
			}
			content := clean.Slice(start, end)
			if content == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Start:   start,
				End:     end,
				Length:  end - start,
				Content: content,
				Section: &Section{
					NodeID:       sec.NodeID,
					NodePath:     sec.NodePath,
					Level:        sec.Level,
					PageStart:    sec.PageStart,
					PageEnd:      sec.PageEnd,
					CharStart:    start,
					CharEnd:      end,
					SectionTitle: sec.Title,
				},
			})
		}
	}
	return chunks
}
