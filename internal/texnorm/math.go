package texnorm

import "regexp"

var (
	subequationsRe  = regexp.MustCompile(`\\(?:begin|end)\s*\{subequations\}`)
	trailingLabelRe = regexp.MustCompile(`(\\end\{(?:equation|align|gather|multline|alignat|eqnarray|flalign)\*?\})(\s*)(\\label\{[^}]+\})`)
)

// flattenSubequations removes subequations wrappers; the converter drops
// labels inside them.
func flattenSubequations(text string) string {
	return replaceCode(text, subequationsRe, func([]int) string { return "" })
}

// moveTrailingLabels moves a \label written right after a display math
// environment back inside it.
func moveTrailingLabels(text string) string {
	return replaceCode(text, trailingLabelRe, func(m []int) string {
		return group(text, m, 3) + "\n" + group(text, m, 1)
	})
}
