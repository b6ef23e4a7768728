package texnorm

import (
	"regexp"
	"strings"

	"github.com/timmy/goldmine/internal/texsource"
)

// StripComment splits line into its code part and the comment that follows
// the first unescaped '%' (including the '%').
func StripComment(line string) (code, comment string) {
	if i := texsource.CommentStart(line); i >= 0 {
		return line[:i], line[i:]
	}
	return line, ""
}

// mask returns text with every comment byte replaced by NUL. Offsets in the
// result are identical to offsets in text, so patterns can be matched on the
// mask and applied to the original.
func mask(text string) string {
	if !strings.Contains(text, "%") {
		return text
	}
	b := []byte(text)
	start := 0
	for start < len(text) {
		end := strings.IndexByte(text[start:], '\n')
		if end < 0 {
			end = len(text)
		} else {
			end += start
		}
		if i := texsource.CommentStart(text[start:end]); i >= 0 {
			for j := start + i; j < end; j++ {
				b[j] = 0
			}
		}
		start = end + 1
	}
	return string(b)
}

// replaceCode replaces every match of re outside comments. fn receives the
// submatch index slice, valid for text.
func replaceCode(text string, re *regexp.Regexp, fn func(m []int) string) string {
	matches := re.FindAllStringSubmatchIndex(mask(text), -1)
	if len(matches) == 0 {
		return text
	}
	var out strings.Builder
	out.Grow(len(text))
	last := 0
	for _, m := range matches {
		out.WriteString(text[last:m[0]])
		out.WriteString(fn(m))
		last = m[1]
	}
	out.WriteString(text[last:])
	return out.String()
}

func group(text string, m []int, g int) string {
	if 2*g+1 >= len(m) || m[2*g] < 0 {
		return ""
	}
	return text[m[2*g]:m[2*g+1]]
}

// escaped reports whether text[i] is preceded by an odd run of backslashes.
func escaped(text string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && text[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// matchGroup returns the offset just past the delimiter closing the group
// opened at text[open], or -1 when it is unterminated. Comments and escaped
// delimiters are skipped. For '[' groups, a ']' nested inside braces does
// not close the group.
func matchGroup(text string, open int) int {
	closer := byte('}')
	if text[open] == '[' {
		closer = ']'
	}
	depth, braces := 0, 0
	for k := open; k < len(text); k++ {
		c := text[k]
		if escaped(text, k) {
			continue
		}
		switch {
		case c == '%':
			nl := strings.IndexByte(text[k:], '\n')
			if nl < 0 {
				return -1
			}
			k += nl
		case closer == ']' && c == '{':
			braces++
		case closer == ']' && c == '}':
			if braces > 0 {
				braces--
			}
		case c == text[open] && braces == 0:
			depth++
		case c == closer && braces == 0:
			depth--
			if depth == 0 {
				return k + 1
			}
		}
	}
	return -1
}

// indexCommand finds the next control word needle (e.g. `\hint`) at or after
// from in masked, skipping escaped backslashes and longer control words.
func indexCommand(masked, needle string, from int) int {
	for from <= len(masked) {
		j := strings.Index(masked[from:], needle)
		if j < 0 {
			return -1
		}
		j += from
		end := j + len(needle)
		if !escaped(masked, j) && (end >= len(masked) || !isLetter(masked[end])) {
			return j
		}
		from = j + 1
	}
	return -1
}

// rewriteCommand replaces every `\name{arg}` outside comments with fn(arg).
// An unterminated argument leaves the rest of text unchanged.
func rewriteCommand(text, name string, fn func(arg string) string) string {
	needle := `\` + name
	masked := mask(text)
	var out strings.Builder
	i := 0
	for {
		j := indexCommand(masked, needle, i)
		if j < 0 {
			out.WriteString(text[i:])
			break
		}
		k := j + len(needle)
		for k < len(masked) && isSpace(masked[k]) {
			k++
		}
		if k >= len(masked) || masked[k] != '{' {
			out.WriteString(text[i:k])
			i = k
			continue
		}
		end := matchGroup(text, k)
		if end < 0 {
			out.WriteString(text[i:])
			break
		}
		out.WriteString(text[i:j])
		out.WriteString(fn(text[k+1 : end-1]))
		i = end
	}
	return out.String()
}

// splitTopLevel splits s on sep outside brace groups.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, last := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

var usepackageRe = regexp.MustCompile(`\\(?:usepackage|RequirePackage)\s*(\[[^\]]*\])?\s*\{([^}]*)\}`)

// filterPackages removes packages for which drop returns true from every
// \usepackage list. A list left empty removes the whole directive.
func filterPackages(text string, drop func(pkg string) bool) string {
	return replaceCode(text, usepackageRe, func(m []int) string {
		names := strings.Split(group(text, m, 2), ",")
		kept := make([]string, 0, len(names))
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" || drop(name) {
				continue
			}
			kept = append(kept, name)
		}
		full := text[m[0]:m[1]]
		switch {
		case len(kept) == len(names):
			return full
		case len(kept) == 0:
			return ""
		}
		cmd := full[:strings.IndexAny(full[1:], "[{ \t\n")+1]
		return cmd + group(text, m, 1) + "{" + strings.Join(kept, ",") + "}"
	})
}
