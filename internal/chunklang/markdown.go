package chunklang

import (
	"strings"

	"github.com/chunkhound/chunkhound/internal/store"
)

// markdownChunker splits a document into heading chunks (one per
// ATX `#` heading, spanning to the next heading of equal-or-higher
// level) and paragraph chunks (one per blank-line-separated block of
// non-heading lines, including blocks inside a heading's span). Setext
// (underlined) headings are not recognized; their lines are treated as
// paragraph text. No third-party parser is reached for here: the non-code
// text kinds (§3 Chunk.kind: heading, paragraph) need only line
// classification, not a CommonMark AST, and the pack carries no
// markdown library the teacher or any other example depends on.
type markdownChunker struct{}

func (markdownChunker) Produce(path string, content []byte) ([]*store.Chunk, error) {
	lines := strings.Split(string(content), "\n")

	var chunks []*store.Chunk
	var para []string
	paraStart := 0

	flushPara := func(endLine int) {
		if len(para) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(para, "\n"))
		if text != "" {
			chunks = append(chunks, &store.Chunk{
				Kind:      store.KindParagraph,
				StartLine: paraStart,
				EndLine:   endLine,
				Code:      text,
			})
		}
		para = nil
	}

	for i, line := range lines {
		lineNo := i + 1
		if heading, ok := parseATXHeading(line); ok {
			flushPara(lineNo - 1)
			end := headingEnd(lines, i, headingLevel(line))
			chunks = append(chunks, &store.Chunk{
				Kind:      store.KindHeading,
				Name:      heading,
				StartLine: lineNo,
				EndLine:   end,
				Code:      strings.Join(lines[i:end], "\n"),
			})
			continue
		}
		if strings.TrimSpace(line) == "" {
			flushPara(lineNo - 1)
			continue
		}
		if len(para) == 0 {
			paraStart = lineNo
		}
		para = append(para, line)
	}
	flushPara(len(lines))

	return chunks, nil
}

func headingLevel(line string) int {
	trimmed := strings.TrimLeft(line, " ")
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	return level
}

func parseATXHeading(line string) (name string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	level := headingLevel(trimmed)
	if level == 0 || level > 6 {
		return "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// headingEnd returns the exclusive-to-inclusive (1-indexed) last line
// of the section started at lines[start], extending until a heading
// of equal or lower level (i.e. fewer or equal '#') appears.
func headingEnd(lines []string, start, level int) int {
	for i := start + 1; i < len(lines); i++ {
		if h := headingLevel(strings.TrimLeft(lines[i], " ")); h > 0 && h <= level {
			return i // 1-indexed end is the line before this heading
		}
	}
	return len(lines)
}
