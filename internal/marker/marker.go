// Package marker injects numbered tokens in front of exercise boundaries so
// the rendered HTML can be split along them.
package marker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/timmy/goldmine/internal/texnorm"
)

const (
	tokenPrefix = "ZZGMEX"
	tokenSuffix = "ZZ"
)

var (
	// TokenRe matches a raw marker token and captures its ordinal.
	TokenRe = regexp.MustCompile(tokenPrefix + `(\d+)` + tokenSuffix)

	tokenLineRe   = regexp.MustCompile(tokenPrefix + `\d+` + tokenSuffix + `\n?`)
	definitionRe  = regexp.MustCompile(`\\(?:newcommand|renewcommand|providecommand|def|let|newenvironment|renewenvironment|DeclareRobustCommand|NewDocumentCommand|RenewDocumentCommand|NewDocumentEnvironment)\b`)
	beginDocument = regexp.MustCompile(`\\begin\s*\{document\}`)
	endDocument   = regexp.MustCompile(`\\end\s*\{document\}`)
)

// Token returns the marker token with ordinal n. It survives the converter
// as plain text.
func Token(n int) string {
	return tokenPrefix + strconv.Itoa(n) + tokenSuffix
}

// Comment returns the HTML comment a token with ordinal n is rewritten to.
func Comment(n int) string {
	return "<!--GMEX:" + strconv.Itoa(n) + "-->"
}

// Rule detects one kind of exercise boundary on the code part of a line.
type Rule interface {
	Name() string
	Matches(code string) bool
}

type patternRule struct {
	name string
	re   *regexp.Regexp
}

func (r patternRule) Name() string             { return r.name }
func (r patternRule) Matches(code string) bool { return r.re.MatchString(code) }

// PatternRule builds a Rule from a regular expression.
func PatternRule(name, expr string) Rule {
	return patternRule{name: name, re: regexp.MustCompile(expr)}
}

// DefaultRules returns the boundary rules from most to least specific.
func DefaultRules() []Rule {
	return []Rule{
		PatternRule("environment", `(?i)\\begin\s*\{(?:exercise|problem|aufgabe|uebung|question)\*?\}`),
		PatternRule("macro", `\\(?:exercise|uebung|aufgabe)\b`),
		PatternRule("subsection", `\\subsection\*?\s*[\[{]`),
		PatternRule("section", `\\section\*?\s*[\[{]`),
		PatternRule("title", `(?i)\\(?:textbf|paragraph|subsubsection\*?)\s*\{\s*(?:exercise|problem|aufgabe|übung|uebung)\b`),
	}
}

// Result describes what Inject did.
type Result struct {
	// Rule is the name of the selected rule, empty when nothing was injected.
	Rule     string
	Inserted int
	// Counts holds the match count of every evaluated rule, in rule order.
	Counts []int
}

// Injector places marker tokens using an ordered rule list.
type Injector struct {
	rules []Rule
}

// New returns an Injector over rules, or DefaultRules when none are given.
func New(rules ...Rule) *Injector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Injector{rules: rules}
}

// Inject inserts n tokens, numbered from 1, each on its own line directly
// before a boundary line. The first rule matching exactly n body lines wins;
// when none does, tex is returned unchanged.
func (i *Injector) Inject(tex string, n int) (string, Result) {
	var res Result
	if n <= 0 {
		return tex, res
	}

	lines := strings.SplitAfter(tex, "\n")
	first, last := bodyRange(lines)

	hits := make([][]int, len(i.rules))
	for idx := first; idx < last; idx++ {
		code, _ := texnorm.StripComment(lines[idx])
		if strings.TrimSpace(code) == "" || definitionRe.MatchString(code) {
			continue
		}
		for r, rule := range i.rules {
			if rule.Matches(code) {
				hits[r] = append(hits[r], idx)
			}
		}
	}

	res.Counts = make([]int, len(i.rules))
	chosen := -1
	for r := range i.rules {
		res.Counts[r] = len(hits[r])
		if chosen < 0 && len(hits[r]) == n {
			chosen = r
		}
	}
	if chosen < 0 {
		return tex, res
	}

	var out strings.Builder
	out.Grow(len(tex) + n*16)
	next := 0
	for idx, line := range lines {
		if next < len(hits[chosen]) && hits[chosen][next] == idx {
			next++
			out.WriteString(Token(next))
			out.WriteByte('\n')
		}
		out.WriteString(line)
	}
	res.Rule = i.rules[chosen].Name()
	res.Inserted = n
	return out.String(), res
}

// Inject runs the default injector.
func Inject(tex string, n int) (string, Result) {
	return New().Inject(tex, n)
}

// Strip removes every raw token together with the line break that follows
// it, undoing Inject.
func Strip(text string) string {
	if !strings.Contains(text, tokenPrefix) {
		return text
	}
	return tokenLineRe.ReplaceAllString(text, "")
}

// bodyRange returns the half-open line range between \begin{document} and
// \end{document}, or all lines when the document has no body markers.
func bodyRange(lines []string) (int, int) {
	first, last := 0, len(lines)
	for idx, line := range lines {
		code, _ := texnorm.StripComment(line)
		if beginDocument.MatchString(code) {
			first = idx + 1
			break
		}
	}
	for idx := len(lines) - 1; idx >= first; idx-- {
		code, _ := texnorm.StripComment(lines[idx])
		if endDocument.MatchString(code) {
			last = idx
			break
		}
	}
	return first, last
}
