package repomap

import (
	"sort"
	"strings"
)

// RenderSnippet renders the lines of interest of a file together with their
// enclosing headers (lines with smaller indentation above them, such as the
// class or function a definition lives in). Gaps are collapsed to an
// ellipsis marker.
func RenderSnippet(code string, linesOfInterest []int) string {
	lines := strings.Split(code, "\n")
	show := make(map[int]bool)

	for _, loi := range linesOfInterest {
		if loi < 0 || loi >= len(lines) {
			continue
		}
		show[loi] = true

		// Walk upward collecting enclosing scopes by decreasing indentation.
		indent := indentWidth(lines[loi])
		for i := loi - 1; i >= 0 && indent > 0; i-- {
			line := lines[i]
			if strings.TrimSpace(line) == "" {
				continue
			}
			w := indentWidth(line)
			if w < indent {
				show[i] = true
				indent = w
			}
		}
	}
	if len(show) == 0 {
		return ""
	}

	ordered := make([]int, 0, len(show))
	for i := range show {
		ordered = append(ordered, i)
	}
	sort.Ints(ordered)

	var b strings.Builder
	prev := -1
	for _, i := range ordered {
		if prev >= 0 && i > prev+1 {
			b.WriteString("⋮...\n")
		} else if prev == -1 && i > 0 {
			b.WriteString("⋮...\n")
		}
		b.WriteString("│")
		b.WriteString(lines[i])
		b.WriteString("\n")
		prev = i
	}
	if prev < len(lines)-1 {
		b.WriteString("⋮...\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func indentWidth(line string) int {
	w := 0
	for _, r := range line {
		switch r {
		case ' ':
			w++
		case '\t':
			w += 4
		default:
			return w
		}
	}
	return w
}
