package texnorm

import "regexp"

const solutionOpen = `\begin{quote}\textbf{Solution. }`

var (
	hideSolutionsOptionRe = regexp.MustCompile(`\\(?:documentclass|usepackage)\s*\[[^\]]*\b(?:nosolutions?|hidesolutions?)\b[^\]]*\]`)
	hideSolutionsCmdRe    = regexp.MustCompile(`\\(?:solutionsfalse|hidesolutions|nosolutions)\b|\\excludecomment\s*\{(?:solution|loesung)\}`)
	solutionBlockRes      = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\\begin\{solution\}.*?\\end\{solution\}`),
		regexp.MustCompile(`(?is)\\begin\{loesung\}.*?\\end\{loesung\}`),
	}
	solutionBeginRe = regexp.MustCompile(`(?i)\\begin\{(?:solution|loesung)\}`)
	solutionEndRe   = regexp.MustCompile(`(?i)\\end\{(?:solution|loesung)\}`)
	solutionMacroRe = regexp.MustCompile(`\\(?:newcommand|renewcommand|providecommand|DeclareRobustCommand|def)\*?\s*\{?\s*\\(solution|loesung)[^a-zA-Z]`)
)

// rewriteSolutions shows solutions as quote blocks, the converter drops
// unknown environments with their content. Documents that ask for
// solutions to be hidden get the blocks removed instead.
func rewriteSolutions(text string) string {
	masked := mask(text)
	hide := hideSolutionsOptionRe.MatchString(masked) || hideSolutionsCmdRe.MatchString(masked)

	var macros []string
	for _, m := range solutionMacroRe.FindAllStringSubmatch(masked, -1) {
		macros = append(macros, m[1])
	}

	if hide {
		for _, re := range solutionBlockRes {
			text = replaceCode(text, re, func([]int) string { return "" })
		}
		for _, name := range macros {
			text = rewriteCommand(text, name, func(string) string { return "" })
		}
		return text
	}

	text = replaceCode(text, solutionBeginRe, func([]int) string { return solutionOpen })
	text = replaceCode(text, solutionEndRe, func([]int) string { return `\end{quote}` })
	for _, name := range macros {
		text = rewriteCommand(text, name, func(arg string) string {
			return solutionOpen + arg + `\end{quote}`
		})
	}
	return text
}
