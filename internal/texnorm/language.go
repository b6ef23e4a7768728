package texnorm

import (
	"regexp"
	"strings"
)

var languagePackages = map[string]bool{
	"babel":       true,
	"polyglossia": true,
	"german":      true,
	"ngerman":     true,
}

var (
	languageDirectiveRe = regexp.MustCompile(`\\(?:selectlanguage|setmainlanguage|setotherlanguages?|setdefaultlanguage)\s*(?:\[[^\]]*\])?\s*\{[^}]*\}`)
	foreignLanguageRe   = regexp.MustCompile(`\\foreignlanguage\s*(?:\[[^\]]*\])?\s*\{[^}]*\}\s*\{`)
	germanOptionRe      = regexp.MustCompile(`\b(?:n?german|n?austrian|swissgerman)\b`)
)

// neutralizeLanguage drops babel style packages and language switches. When
// a German setup is removed, the babel shorthands ("a, "s, ...) it enabled
// are spelled out so umlauts survive.
func neutralizeLanguage(text string) string {
	german := false
	masked := mask(text)
	for _, m := range usepackageRe.FindAllStringSubmatchIndex(masked, -1) {
		for _, name := range strings.Split(group(masked, m, 2), ",") {
			name = strings.TrimSpace(name)
			switch {
			case name == "german" || name == "ngerman":
				german = true
			case name == "babel" && germanOptionRe.MatchString(group(masked, m, 1)):
				german = true
			}
		}
	}

	text = filterPackages(text, func(pkg string) bool { return languagePackages[pkg] })
	text = replaceCode(text, languageDirectiveRe, func([]int) string { return "" })
	text = replaceCode(text, foreignLanguageRe, func([]int) string { return "{" })
	if german {
		text = expandGermanShorthands(text)
	}
	return text
}

var germanShorthands = map[byte]string{
	'a': `\"a`, 'o': `\"o`, 'u': `\"u`,
	'A': `\"A`, 'O': `\"O`, 'U': `\"U`,
	's': `\ss{}`, '`': `,,`, '\'': `''`, '-': `\-`,
}

func expandGermanShorthands(text string) string {
	masked := mask(text)
	var out strings.Builder
	last := 0
	for i := 0; i+1 < len(masked); i++ {
		if masked[i] != '"' || escaped(masked, i) {
			continue
		}
		repl, ok := germanShorthands[masked[i+1]]
		if !ok {
			continue
		}
		out.WriteString(text[last:i])
		out.WriteString(repl)
		last = i + 2
		i++
	}
	if last == 0 {
		return text
	}
	out.WriteString(text[last:])
	return out.String()
}
