// Package searchtext splits a rendered document into one plain-text block
// per exercise for search indexing.
package searchtext

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"div": true, "dl": true, "dt": true, "dd": true, "fieldset": true,
	"figcaption": true, "figure": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true,
	"tbody": true, "thead": true, "tr": true, "ul": true,
}

// HeadingOrder is the order in which heading levels are tried as split points.
var HeadingOrder = []string{"h2", "h3", "h1", "h4"}

var (
	markerCommentRe = regexp.MustCompile(`<!--GMEX:(\d+)-->`)
	footnotesRe     = regexp.MustCompile(`(?i)<section\b[^>]*class=["']?[^>]*footnotes[^>]*>`)
	texExerciseRe   = regexp.MustCompile(`(?i)\\(?:exercise|uebung|subsection\*?|begin\{(?:problem|exercise)\})`)
	headingRes      = make(map[string]*regexp.Regexp)
)

func init() {
	for _, tag := range HeadingOrder {
		headingRes[tag] = regexp.MustCompile(`(?i)<` + tag + `\b[^>]*>`)
	}
}

// HTMLToRawText extracts the text of an HTML fragment. Block elements and
// <br> become line breaks, script and style content is dropped and entities
// are unescaped. Whitespace is kept as is.
func HTMLToRawText(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
				continue
			}
			if skip == 0 && (tag == "br" || blockTags[tag]) {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if skip > 0 {
					skip--
				}
				continue
			}
			if skip == 0 && blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// HTMLToText is HTMLToRawText with whitespace runs collapsed to one space.
func HTMLToText(fragment string) string {
	return collapse(HTMLToRawText(fragment))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SplitByMarkers returns the HTML following each marker comment up to the
// next one.
func SplitByMarkers(fragment string) []string {
	matches := markerCommentRe.FindAllStringIndex(fragment, -1)
	chunks := make([]string, 0, len(matches))
	for i, m := range matches {
		end := len(fragment)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		chunks = append(chunks, fragment[m[1]:end])
	}
	return chunks
}

// SplitByHeading cuts fragment at every opening tag of the given heading
// level. A trailing footnotes section is removed from each chunk.
func SplitByHeading(fragment, tag string) []string {
	re, ok := headingRes[tag]
	if !ok {
		re = regexp.MustCompile(`(?i)<` + regexp.QuoteMeta(tag) + `\b[^>]*>`)
	}
	matches := re.FindAllStringIndex(fragment, -1)
	chunks := make([]string, 0, len(matches))
	for i, m := range matches {
		end := len(fragment)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		chunk := fragment[m[0]:end]
		if loc := footnotesRe.FindStringIndex(chunk); loc != nil {
			chunk = chunk[:loc[0]]
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// SplitTeX cuts plain text at exercise-introducing TeX commands, for
// fallback HTML that still carries the source.
func SplitTeX(text string) []string {
	matches := texExerciseRe.FindAllStringIndex(text, -1)
	chunks := make([]string, 0, len(matches))
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		chunks = append(chunks, text[m[0]:end])
	}
	return chunks
}

// Candidates returns the segmentations of fragment in priority order:
// markers, headings, TeX commands, then the whole text as one block.
func Candidates(fragment string) [][]string {
	var out [][]string
	if chunks := SplitByMarkers(fragment); len(chunks) > 0 {
		out = append(out, toText(chunks, HTMLToText))
	}
	for _, tag := range HeadingOrder {
		if chunks := SplitByHeading(fragment, tag); len(chunks) > 0 {
			out = append(out, toText(chunks, HTMLToText))
		}
	}
	raw := HTMLToRawText(fragment)
	if chunks := SplitTeX(raw); len(chunks) > 0 {
		out = append(out, toText(chunks, collapse))
	} else if text := collapse(raw); text != "" {
		out = append(out, []string{text})
	}
	return out
}

func toText(chunks []string, conv func(string) string) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = conv(c)
	}
	return out
}

// Extract returns exactly n search texts for fragment (none when n <= 0).
// The first candidate with n blocks wins; otherwise the candidate closest
// to n is merged or padded to fit.
func Extract(fragment string, n int) []string {
	texts, _ := Segment(fragment, n)
	return texts
}

// Segment is Extract that also reports how many blocks the chosen
// candidate had before fitting. It differs from n on a count mismatch.
func Segment(fragment string, n int) ([]string, int) {
	if n <= 0 {
		return []string{}, 0
	}
	candidates := Candidates(fragment)
	if len(candidates) == 0 {
		return make([]string, n), 0
	}
	for _, c := range candidates {
		if len(c) == n {
			return c, n
		}
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if abs(len(c)-n) < abs(len(best)-n) {
			best = c
		}
	}
	return Fit(best, n), len(best)
}

// ExtractAll returns the highest priority segmentation without a target count.
func ExtractAll(fragment string) []string {
	candidates := Candidates(fragment)
	if len(candidates) == 0 {
		return []string{}
	}
	return candidates[0]
}

// Fit merges the blocks past n-1 into the last kept block, or pads with
// empty blocks, so the result has exactly n entries.
func Fit(chunks []string, n int) []string {
	switch {
	case n <= 0:
		return []string{}
	case len(chunks) == n:
		return chunks
	case len(chunks) > n:
		out := make([]string, n)
		copy(out, chunks[:n-1])
		out[n-1] = strings.Join(chunks[n-1:], " ")
		return out
	}
	out := make([]string, n)
	copy(out, chunks)
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
