package texnorm

import (
	"regexp"
	"strings"
)

const (
	fragmentPreamble  = "\\documentclass{article}\n\\usepackage{amsmath,amssymb}\n\\begin{document}\n"
	fragmentPostamble = "\n\\end{document}\n"

	compatSentinel = "% goldmine compat"
)

// compatBlock provides stand-ins for the custom exercise macros of the
// corpus and for the siunitx/mhchem/tensor commands whose packages were
// dropped. Document definitions come first, so \providecommand only fills gaps.
var compatBlock = strings.Join([]string{
	compatSentinel,
	`\makeatletter`,
	`\providecommand{\uebung}[1]{\subsection*{#1}}`,
	`\providecommand{\exercise}[1]{\subsection*{#1}}`,
	`\providecommand{\aufgabe}[1]{\subsection*{#1}}`,
	`\providecommand{\subuebung}[1]{\subsubsection*{#1}}`,
	`\providecommand{\subexercise}[1]{\subsubsection*{#1}}`,
	`\providecommand{\chapterstopics}[2]{}`,
	`\providecommand{\SI}[2]{#1\,#2}`,
	`\providecommand{\qty}[2]{#1\,#2}`,
	`\providecommand{\si}[1]{#1}`,
	`\providecommand{\unit}[1]{#1}`,
	`\providecommand{\num}[1]{#1}`,
	`\providecommand{\ang}[1]{#1\ensuremath{^\circ}}`,
	`\providecommand{\ce}[1]{\mbox{#1}}`,
	`\providecommand{\tensor}[2]{{#1}#2}`,
	`\@ifundefined{problem}{\newenvironment{problem}{\subsection*{Problem}}{}}{}`,
	`\makeatother`,
	"",
}, "\n")

var (
	itemLabelRe     = regexp.MustCompile(`\\item[ \t]*\[`)
	beginDocumentRe = regexp.MustCompile(`\\begin\s*\{document\}`)
)

// preserveItemLabels moves \item[label] into the item body; the converter
// ignores optional item labels.
func preserveItemLabels(text string) string {
	masked := mask(text)
	var out strings.Builder
	last := 0
	for _, m := range itemLabelRe.FindAllStringIndex(masked, -1) {
		if m[0] < last {
			continue
		}
		open := m[1] - 1
		end := matchGroup(text, open)
		if end < 0 {
			continue
		}
		label := strings.TrimSpace(text[open+1 : end-1])
		if label == "" {
			continue
		}
		out.WriteString(text[last:m[0]])
		out.WriteString(`\item \textbf{` + label + `} `)
		last = end
	}
	if last == 0 {
		return text
	}
	out.WriteString(text[last:])
	return out.String()
}

// wrapFragment turns a bodyless fragment into a complete document.
func wrapFragment(text string) string {
	masked := mask(text)
	if beginDocumentRe.MatchString(masked) || documentclassRe.MatchString(masked) {
		return text
	}
	return fragmentPreamble + text + fragmentPostamble
}

// injectCompat inserts the compat block once, right before \begin{document}.
func injectCompat(text string) string {
	if strings.Contains(text, compatSentinel) {
		return text
	}
	loc := beginDocumentRe.FindStringIndex(mask(text))
	if loc == nil {
		return text
	}
	at := loc[0]
	if at > 0 && text[at-1] != '\n' {
		return text[:at] + "\n" + compatBlock + text[at:]
	}
	return text[:at] + compatBlock + text[at:]
}
