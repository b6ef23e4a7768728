package texnorm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	listEnvRe      = regexp.MustCompile(`\\(begin|end)\{(enumerate\*?|exenumerate|compactenum|asparaenum|inparaenum)\}`)
	starCounterRe  = regexp.MustCompile(`\\(alph|Alph|roman|Roman|arabic)\*`)
	enumCounters   = []string{"enumi", "enumii", "enumiii", "enumiv"}
	shortLabelCmds = map[byte]string{'a': "alph", 'A': "Alph", 'i': "roman", 'I': "Roman", '1': "arabic"}
)

// rewriteLists maps third-party enumerate variants to plain enumerate and
// turns their label options into explicit \labelenum redefinitions, one per
// nesting level.
func rewriteLists(text string) string {
	masked := mask(text)
	matches := listEnvRe.FindAllStringSubmatchIndex(masked, -1)
	if len(matches) == 0 {
		return text
	}

	var out strings.Builder
	last, depth := 0, 0
	for _, m := range matches {
		if m[0] < last {
			continue
		}
		out.WriteString(text[last:m[0]])
		last = m[1]
		if group(masked, m, 1) == "end" {
			if depth > 0 {
				depth--
			}
			out.WriteString(`\end{enumerate}`)
			continue
		}

		depth++
		out.WriteString(`\begin{enumerate}`)
		k := m[1]
		for k < len(masked) && (masked[k] == ' ' || masked[k] == '\t') {
			k++
		}
		if k >= len(masked) || masked[k] != '[' {
			continue
		}
		end := matchGroup(text, k)
		if end < 0 {
			continue
		}
		last = end
		if depth <= len(enumCounters) {
			out.WriteString(listLabelCommands(text[k+1:end-1], enumCounters[depth-1]))
		}
	}
	out.WriteString(text[last:])
	return out.String()
}

// listLabelCommands converts enumitem keys (label=, start=) or enumerate
// package short labels such as "(a)" into TeX for the given counter.
func listLabelCommands(opts, counter string) string {
	opts = strings.TrimSpace(opts)
	if opts == "" {
		return ""
	}

	label, start := "", 0
	if strings.Contains(opts, "=") {
		for _, kv := range splitTopLevel(opts, ',') {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.TrimSpace(key) {
			case "label":
				value = strings.TrimSuffix(strings.TrimPrefix(value, "{"), "}")
				label = starCounterRe.ReplaceAllString(value, `\${1}{`+counter+`}`)
			case "start":
				if n, err := strconv.Atoi(value); err == nil {
					start = n
				}
			}
		}
	} else {
		label = shortLabel(opts, counter)
	}

	var b strings.Builder
	if label != "" {
		fmt.Fprintf(&b, `\renewcommand{\label%s}{%s}`, counter, label)
	}
	if start != 0 {
		fmt.Fprintf(&b, `\setcounter{%s}{%d}`, counter, start-1)
	}
	return b.String()
}

// shortLabel converts the first counter letter outside braces; the rest is
// copied literally with brace groups opened up.
func shortLabel(opts, counter string) string {
	var b strings.Builder
	converted := false
	depth := 0
	for i := 0; i < len(opts); i++ {
		c := opts[i]
		switch {
		case c == '{':
			depth++
			continue
		case c == '}':
			if depth > 0 {
				depth--
			}
			continue
		}
		if cmd, ok := shortLabelCmds[c]; ok && !converted && depth == 0 {
			fmt.Fprintf(&b, `\%s{%s}`, cmd, counter)
			converted = true
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
