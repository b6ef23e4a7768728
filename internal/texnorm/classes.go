package texnorm

import (
	"regexp"
	"strings"
)

var baseClasses = map[string]bool{
	"article":  true,
	"report":   true,
	"book":     true,
	"letter":   true,
	"amsart":   true,
	"amsbook":  true,
	"scrartcl": true,
	"scrreprt": true,
	"scrbook":  true,
	"minimal":  true,
}

// DefaultSupportedPackages are packages the converter loads without help.
var DefaultSupportedPackages = []string{
	"amsmath", "amssymb", "amsthm", "amsfonts", "mathtools", "bm", "latexsym",
	"mathrsfs", "dsfont", "bbm", "cancel", "braket", "physics",
	"graphicx", "graphics", "color", "xcolor", "hyperref", "url",
	"geometry", "inputenc", "fontenc", "lmodern", "textcomp", "xspace",
	"enumerate", "enumitem", "array", "tabularx", "booktabs", "multirow",
	"longtable", "float", "caption", "subcaption", "subfig", "wrapfig",
	"verbatim", "listings", "fancyhdr", "tikz", "pgfplots", "comment",
	"ifthen", "calc", "youngtab",
}

var documentclassRe = regexp.MustCompile(`\\documentclass\s*(\[[^\]]*\])?\s*\{([^}]*)\}`)

// classesPass replaces custom document classes without a local .cls by
// article and drops packages that are neither supported nor available as a
// local .sty. The macros those files would have defined come from the
// compat block.
func classesPass(exists func(string) bool, supported []string) func(string) string {
	known := make(map[string]bool, len(supported))
	for _, pkg := range supported {
		known[pkg] = true
	}
	return func(text string) string {
		text = replaceCode(text, documentclassRe, func(m []int) string {
			name := strings.TrimSpace(group(text, m, 2))
			if baseClasses[name] || exists(name+".cls") {
				return text[m[0]:m[1]]
			}
			return `\documentclass` + group(text, m, 1) + "{article}"
		})
		return filterPackages(text, func(pkg string) bool {
			if known[pkg] || strings.Contains(pkg, "/") {
				return false
			}
			return !exists(pkg + ".sty")
		})
	}
}
