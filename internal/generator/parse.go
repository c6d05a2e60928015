package generator

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultTitle is used when a response yields no usable title line.
const DefaultTitle = "無題"

const maxTitleRunes = 100

var (
	headingRE  = regexp.MustCompile(`(?m)^#+\s*`)
	boldRE     = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRE   = regexp.MustCompile(`\*([^*]+)\*`)
	bulletRE   = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	numberedRE = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
	blankRunRE = regexp.MustCompile(`\n{3,}`)
)

var titlePrefixes = []string{"タイトル:", "タイトル："}

// StripMarkdown removes heading, emphasis and list markup.
func StripMarkdown(s string) string {
	s = headingRE.ReplaceAllString(s, "")
	s = boldRE.ReplaceAllString(s, "$1")
	s = italicRE.ReplaceAllString(s, "$1")
	s = bulletRE.ReplaceAllString(s, "")
	s = numberedRE.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseResponse splits raw model output into a title and body.
//
// The title is an explicit "タイトル:" line or, failing that, the first
// non-empty line shorter than 100 characters. Everything after it is body.
func ParseResponse(content string) Draft {
	lines := strings.Split(strings.TrimSpace(content), "\n")

	var (
		title      string
		body       []string
		foundTitle bool
	)
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			if foundTitle {
				body = append(body, "")
			}
			continue
		}
		if foundTitle {
			body = append(body, StripMarkdown(line))
			continue
		}
		if rest, ok := cutTitlePrefix(line); ok {
			title = StripMarkdown(rest)
			foundTitle = true
		} else if title == "" && utf8.RuneCountInString(line) < maxTitleRunes {
			title = StripMarkdown(line)
			foundTitle = true
		} else {
			body = append(body, StripMarkdown(line))
		}
	}

	if title == "" && len(lines) > 0 {
		title = StripMarkdown(strings.TrimSpace(lines[0]))
		body = body[:0]
		for _, l := range lines[1:] {
			if l = strings.TrimSpace(l); l != "" {
				body = append(body, StripMarkdown(l))
			}
		}
	}

	text := strings.Join(body, "\n")
	if len(body) == 0 {
		text = StripMarkdown(content)
	}
	text = blankRunRE.ReplaceAllString(text, "\n\n")

	if title == "" {
		title = DefaultTitle
	}
	return Draft{Title: title, Body: text}
}

func cutTitlePrefix(line string) (string, bool) {
	for _, p := range titlePrefixes {
		if rest, ok := strings.CutPrefix(line, p); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}
