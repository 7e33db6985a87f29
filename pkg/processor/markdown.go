package processor

import (
	"regexp"
	"strings"
)

var (
	fenceRe     = regexp.MustCompile("^```\\s*(\\S*)\\s*$")
	headerRe    = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	imageRe     = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	boldRe      = regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`)
	italicRe    = regexp.MustCompile(`\*([^*]+)\*|_([^_]+)_`)
	inlineCode  = regexp.MustCompile("`([^`]+)`")
	listItemRe  = regexp.MustCompile(`^\s*(?:[-*+]|\d+\.)\s+(.*)$`)
	tableSepRe  = regexp.MustCompile(`^\s*\|?[\s:|-]+\|?\s*$`)
	blockquote  = regexp.MustCompile(`^\s*>\s?(.*)$`)
	htmlTagRe   = regexp.MustCompile(`<[^>]+>`)
	horizRuleRe = regexp.MustCompile(`^\s*([-*_]\s*){3,}$`)
)

// markdownToText converts markdown to plain text that reads naturally as
// chunker input. Structural elements become labeled text rather than being
// dropped.
func markdownToText(content string) string {
	lines := strings.Split(content, "\n")
	var out []string

	inFence := false
	fenceLang := ""
	inTable := false

	flushTable := func() {
		if inTable {
			out = append(out, "")
			inTable = false
		}
	}

	for _, line := range lines {
		if m := fenceRe.FindStringSubmatch(line); m != nil {
			if !inFence {
				inFence = true
				fenceLang = m[1]
			} else {
				if fenceLang != "" {
					out = append(out, "[Code Block: "+fenceLang+"]")
				} else {
					out = append(out, "[Code Block]")
				}
				inFence = false
			}
			continue
		}
		if inFence {
			continue
		}

		if horizRuleRe.MatchString(line) {
			flushTable()
			out = append(out, "")
			continue
		}

		// Table rows keep their cells, separator rows are dropped.
		if strings.Contains(line, "|") && strings.Count(line, "|") >= 2 {
			if tableSepRe.MatchString(line) {
				continue
			}
			if !inTable {
				out = append(out, "Table:")
				inTable = true
			}
			cells := splitTableRow(line)
			out = append(out, strings.Join(cells, " | "))
			continue
		}
		flushTable()

		if m := headerRe.FindStringSubmatch(line); m != nil {
			text := cleanInline(m[2])
			out = append(out, "", text)
			switch len(m[1]) {
			case 1:
				out = append(out, strings.Repeat("=", len(text)))
			case 2:
				out = append(out, strings.Repeat("-", len(text)))
			}
			out = append(out, "")
			continue
		}

		if m := blockquote.FindStringSubmatch(line); m != nil {
			out = append(out, "Quote: "+cleanInline(m[1]))
			continue
		}

		if m := listItemRe.FindStringSubmatch(line); m != nil {
			out = append(out, "- "+cleanInline(m[1]))
			continue
		}

		out = append(out, cleanInline(line))
	}

	return strings.Join(out, "\n")
}

func splitTableRow(line string) []string {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	parts := strings.Split(trimmed, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, cleanInline(strings.TrimSpace(p)))
	}
	return cells
}

func cleanInline(text string) string {
	text = imageRe.ReplaceAllString(text, "[Image: $1]")
	text = linkRe.ReplaceAllString(text, "$1 (URL: $2)")
	text = boldRe.ReplaceAllString(text, "$1$2")
	text = italicRe.ReplaceAllString(text, "$1$2")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = htmlTagRe.ReplaceAllString(text, "")
	return text
}
