// Package htmlpost finishes converter output: marker tokens become
// structural comments and math is adjusted for MathJax.
package htmlpost

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/timmy/goldmine/internal/marker"
)

var (
	markerRe       = regexp.MustCompile(`<p\b[^>]*>\s*ZZGMEX(\d+)ZZ\s*</p>|ZZGMEX(\d+)ZZ`)
	mathLabelRe    = regexp.MustCompile(`\\label\{([^}]+)\}`)
	eqrefAnchorRe  = regexp.MustCompile(`(?i)<a\s+[^>]*data-reference-type="(eqref|ref)"[^>]*data-reference="([^"]+)"[^>]*>[^<]*</a>`)
	arrayBlockRe   = regexp.MustCompile(`(?s)\\begin\{array\}\{[^}]+\}.*?\\end\{array\}`)
	alignedArrayRe = regexp.MustCompile(`(?s)\\begin\{align\*?\}\s*(\\begin\{array\}\{[^}]+\}.*?\\end\{array\})\s*\\end\{align\*?\}`)

	mathEnvReplacer = strings.NewReplacer(
		`\begin{aligned}`, `\begin{align}`,
		`\end{aligned}`, `\end{align}`,
	)
	mathMacroReplacer = strings.NewReplacer(
		`\yng(`, `\mathrm{yng}(`,
		`\young(`, `\mathrm{young}(`,
		`\begin{tabular}`, `\begin{array}`,
		`\end{tabular}`, `\end{array}`,
	)
	escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// Process applies every fix-up to converter output.
func Process(html string) string {
	html = MarkersToComments(html)
	html = RestoreEqrefs(html)
	html = mathEnvReplacer.Replace(html)
	return NormalizeMathMacros(html)
}

// MarkersToComments rewrites each marker token, alone in its paragraph or
// inline, to its structural comment.
func MarkersToComments(html string) string {
	return markerRe.ReplaceAllStringFunc(html, func(match string) string {
		sub := markerRe.FindStringSubmatch(match)
		digits := sub[1]
		if digits == "" {
			digits = sub[2]
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return match
		}
		return marker.Comment(n)
	})
}

// RestoreEqrefs turns converter-expanded equation references back into
// MathJax \eqref calls. Labels MathJax cannot see get a hidden display
// math stub so the reference resolves.
func RestoreEqrefs(html string) string {
	mathLabels := make(map[string]bool)
	for _, m := range mathLabelRe.FindAllStringSubmatch(html, -1) {
		mathLabels[m[1]] = true
	}
	added := make(map[string]bool)

	return eqrefAnchorRe.ReplaceAllStringFunc(html, func(match string) string {
		sub := eqrefAnchorRe.FindStringSubmatch(match)
		kind, label := strings.ToLower(sub[1]), sub[2]
		if kind != "eqref" && !strings.HasPrefix(label, "eq:") {
			return match
		}
		hidden := ""
		if !mathLabels[label] && !added[label] {
			added[label] = true
			hidden = fmt.Sprintf(`<span style="display:none">\[\label{%s}\]</span>`, label)
		}
		return hidden + fmt.Sprintf(`<span class="math inline">\(\eqref{%s}\)</span>`, label)
	})
}

// NormalizeMathMacros replaces macros MathJax lacks and turns math tabulars
// into arrays.
func NormalizeMathMacros(html string) string {
	html = mathMacroReplacer.Replace(html)
	html = arrayBlockRe.ReplaceAllStringFunc(html, func(block string) string {
		return strings.ReplaceAll(block, "$", "")
	})
	return alignedArrayRe.ReplaceAllString(html, "$1")
}

// Escape escapes the characters that matter inside a <pre> block.
func Escape(text string) string {
	return escaper.Replace(text)
}

// Fallback is the HTML stored when the converter fails: the TeX without
// marker tokens, escaped, in a single preformatted block.
func Fallback(tex string) string {
	return "<pre>" + Escape(marker.Strip(tex)) + "</pre>"
}
