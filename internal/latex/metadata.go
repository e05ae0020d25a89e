package latex

import (
	"regexp"
	"strings"
)

// Metadata holds the fields recoverable from raw LaTeX source.
type Metadata struct {
	Title    string
	Authors  []string
	Abstract string
}

var (
	andRe        = regexp.MustCompile(`\\and\b`)
	lineBreakRe  = regexp.MustCompile(`\\\\`)
	abstractRe   = regexp.MustCompile(`(?s)\\begin\{abstract\}(.*?)\\end\{abstract\}`)
	fullLineRe   = regexp.MustCompile(`(?m)^\s*%.*$`)
	inlineNoteRe = regexp.MustCompile(`(?m)%.*$`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Commands whose argument belongs to the author name.
var unwrapCommands = []string{"textbf", "textit", "emph", "textrm", "textsf", "texttt", "textsc"}

// Commands whose argument is an annotation, not part of the name.
var dropCommands = []string{"thanks", "inst", "textsuperscript", "footnote", "affiliation", "email"}

// ParseMetadata pulls title, authors and abstract out of a LaTeX document.
// Missing fields stay empty; callers decide what to do about that.
func ParseMetadata(tex string) Metadata {
	var m Metadata

	if raw, ok := bracedContent(tex, "title"); ok {
		m.Title = cleanLaTeXText(raw)
	}

	if raw, ok := bracedContent(tex, "author"); ok {
		for _, part := range andRe.Split(raw, -1) {
			for _, cmd := range dropCommands {
				part = removeCommandWithBraces(part, cmd)
			}
			part = lineBreakRe.ReplaceAllString(part, " ")
			if name := cleanLaTeXText(part); name != "" {
				m.Authors = append(m.Authors, name)
			}
		}
	}

	if match := abstractRe.FindStringSubmatch(tex); match != nil {
		m.Abstract = cleanLaTeXText(match[1])
	}

	return m
}

// bracedContent returns the balanced argument of \command{...}.
func bracedContent(tex, command string) (string, bool) {
	marker := "\\" + command
	from := 0
	for {
		idx := strings.Index(tex[from:], marker)
		if idx < 0 {
			return "", false
		}
		idx += from
		after := idx + len(marker)
		// Reject longer commands sharing the prefix, e.g. \titlehead.
		if after < len(tex) && isLetter(tex[after]) {
			from = after
			continue
		}
		after = skipSpace(tex, after)
		if after >= len(tex) || tex[after] != '{' {
			from = idx + len(marker)
			continue
		}
		end := findMatchingBrace(tex, after)
		if end < 0 {
			return "", false
		}
		return tex[after+1 : end], true
	}
}

// findMatchingBrace returns the index of the brace closing tex[open].
func findMatchingBrace(tex string, open int) int {
	depth := 0
	for i := open; i < len(tex); i++ {
		if i > 0 && tex[i-1] == '\\' {
			continue
		}
		switch tex[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// removeCommandWithBraces deletes every \name{...} including its argument.
func removeCommandWithBraces(tex, name string) string {
	marker := "\\" + name
	from := 0
	for {
		idx := strings.Index(tex[from:], marker)
		if idx < 0 {
			return tex
		}
		idx += from
		after := idx + len(marker)
		if after < len(tex) && isLetter(tex[after]) {
			// Prefix of a longer command; leave it for the bare-command pass.
			from = after
			continue
		}
		ws := skipSpace(tex, after)
		if ws < len(tex) && tex[ws] == '{' {
			end := findMatchingBrace(tex, ws)
			if end < 0 {
				tex = tex[:idx] + tex[after:]
				from = idx
				continue
			}
			tex = tex[:idx] + tex[end+1:]
			from = idx
			continue
		}
		tex = tex[:idx] + tex[after:]
		from = idx
	}
}

// unwrapCommand replaces \name{content} with content, innermost first.
func unwrapCommand(tex, name string) string {
	marker := "\\" + name
	from := 0
	for {
		idx := strings.Index(tex[from:], marker)
		if idx < 0 {
			return tex
		}
		idx += from
		after := idx + len(marker)
		if after < len(tex) && isLetter(tex[after]) {
			from = after
			continue
		}
		open := skipSpace(tex, after)
		if open >= len(tex) || tex[open] != '{' {
			from = after
			continue
		}
		end := findMatchingBrace(tex, open)
		if end < 0 {
			return tex
		}
		tex = tex[:idx] + tex[open+1:end] + tex[end+1:]
		from = idx
	}
}

// cleanLaTeXText reduces LaTeX markup to plain text: comments out,
// formatting commands unwrapped, leftover commands and braces dropped,
// whitespace collapsed.
func cleanLaTeXText(tex string) string {
	tex = fullLineRe.ReplaceAllString(tex, "")

	// Protect escaped percent signs while stripping trailing comments.
	tex = strings.ReplaceAll(tex, `\%`, "\x00")
	tex = inlineNoteRe.ReplaceAllString(tex, "")
	tex = strings.ReplaceAll(tex, "\x00", `\%`)

	for _, cmd := range unwrapCommands {
		tex = unwrapCommand(tex, cmd)
	}

	tex = stripBareCommands(tex)

	// Drop grouping braces but keep escaped literals.
	tex = strings.ReplaceAll(tex, `\{`, "\x01")
	tex = strings.ReplaceAll(tex, `\}`, "\x02")
	tex = strings.ReplaceAll(tex, "{", "")
	tex = strings.ReplaceAll(tex, "}", "")
	tex = strings.ReplaceAll(tex, "\x01", "{")
	tex = strings.ReplaceAll(tex, "\x02", "}")

	tex = whitespaceRe.ReplaceAllString(tex, " ")
	return strings.TrimSpace(tex)
}

// stripBareCommands replaces \word sequences with a space. A command that
// introduces a braced or bracketed argument loses only its name, so the
// argument text survives the later brace removal.
func stripBareCommands(tex string) string {
	var b strings.Builder
	b.Grow(len(tex))
	i := 0
	for i < len(tex) {
		if tex[i] != '\\' || i+1 >= len(tex) || !isLetter(tex[i+1]) {
			b.WriteByte(tex[i])
			i++
			continue
		}
		j := i + 1
		for j < len(tex) && isLetter(tex[j]) {
			j++
		}
		if j < len(tex) && (tex[j] == '{' || tex[j] == '[') {
			i = j
			continue
		}
		b.WriteByte(' ')
		i = j
	}
	return b.String()
}

func skipSpace(tex string, i int) int {
	for i < len(tex) {
		switch tex[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
