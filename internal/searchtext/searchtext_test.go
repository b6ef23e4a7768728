package searchtext

import (
	"reflect"
	"strings"
	"testing"
)

func TestHTMLToText(t *testing.T) {
	in := `<h2>Aufgabe&nbsp;1</h2><p>Zeige &amp; beweise<br>dass</p><script>var x = "<p>";</script><style>p{}</style><!-- c -->x`
	want := "Aufgabe 1 Zeige & beweise dass x"
	if got := HTMLToText(in); got != want {
		t.Errorf("HTMLToText() = %q, want %q", got, want)
	}
	raw := HTMLToRawText("<p>a</p>b")
	if raw != "\na\nb" {
		t.Errorf("HTMLToRawText() = %q", raw)
	}
}

func TestExtract_MarkersWin(t *testing.T) {
	html := `<p>intro</p><!--GMEX:1--><h2>A</h2><p>one</p><!--GMEX:2--><h2>B</h2><p>two</p>`
	got := Extract(html, 2)
	want := []string{"A one", "B two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %q, want %q", got, want)
	}
}

func TestExtract_HeadingTiers(t *testing.T) {
	html := `<h2>Blatt</h2><h3>A</h3><p>x</p><h3>B</h3><p>y</p>` +
		`<section class="footnotes"><p>fn</p></section>`
	got := Extract(html, 2)
	want := []string{"A x", "B y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %q, want %q", got, want)
	}
}

func TestExtract_TeXFallback(t *testing.T) {
	html := "<pre>\\documentclass{article}\n\\exercise{One} a\n\\exercise{Two} b\n\\exercise{Three} c</pre>"
	got := Extract(html, 3)
	want := []string{`\exercise{One} a`, `\exercise{Two} b`, `\exercise{Three} c`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %q, want %q", got, want)
	}
}

func TestExtract_ForceFit(t *testing.T) {
	html := `<h2>A</h2><h2>B</h2><h2>C</h2><h2>D</h2>`

	// Four headings are closer to three than the single whole-text block.
	merged := Extract(html, 3)
	if !reflect.DeepEqual(merged, []string{"A", "B", "C D"}) {
		t.Errorf("merge: got %q", merged)
	}
	whole := Extract(html, 2)
	if !reflect.DeepEqual(whole, []string{"A B C D", ""}) {
		t.Errorf("closest candidate: got %q", whole)
	}
	padded := Extract(html, 6)
	if !reflect.DeepEqual(padded, []string{"A", "B", "C", "D", "", ""}) {
		t.Errorf("pad: got %q", padded)
	}
}

func TestExtract_AlwaysExactlyN(t *testing.T) {
	inputs := []string{
		"",
		"plain words",
		`<h1>x</h1><h2>y</h2><!--GMEX:1-->z`,
		"<p>\\subsection{a}\\subsection{b}</p>",
		"<script>only script</script>",
	}
	for _, in := range inputs {
		for n := 0; n <= 5; n++ {
			got := Extract(in, n)
			if len(got) != n {
				t.Errorf("Extract(%q, %d) returned %d texts", in, n, len(got))
			}
			if got == nil {
				t.Errorf("Extract(%q, %d) returned nil", in, n)
			}
		}
	}
}

func TestExtractAll(t *testing.T) {
	if got := ExtractAll("<h2>A</h2>a<h2>B</h2>b"); !reflect.DeepEqual(got, []string{"A a", "B b"}) {
		t.Errorf("ExtractAll() = %q", got)
	}
	if got := ExtractAll(""); len(got) != 0 {
		t.Errorf("ExtractAll(\"\") = %q", got)
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		n      int
		want   []string
	}{
		{name: "equal", chunks: []string{"a", "b"}, n: 2, want: []string{"a", "b"}},
		{name: "merge into one", chunks: []string{"a", "b", "c"}, n: 1, want: []string{"a b c"}},
		{name: "pad empty", chunks: nil, n: 2, want: []string{"", ""}},
		{name: "zero", chunks: []string{"a"}, n: 0, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fit(tt.chunks, tt.n); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Fit() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitByHeading_CaseInsensitive(t *testing.T) {
	chunks := SplitByHeading(`<H2 id="a">A</H2><h2>B</h2>`, "h2")
	if len(chunks) != 2 || !strings.HasPrefix(chunks[0], "<H2") {
		t.Errorf("SplitByHeading() = %q", chunks)
	}
}

func TestSegment_ReportsFoundBlocks(t *testing.T) {
	html := `<h2>A</h2><h2>B</h2><h2>C</h2><h2>D</h2>`
	tests := []struct {
		n     int
		found int
	}{
		{4, 4},
		{3, 4},
		{6, 4},
		{0, 0},
	}
	for _, tt := range tests {
		texts, found := Segment(html, tt.n)
		if len(texts) != tt.n || found != tt.found {
			t.Errorf("Segment(n=%d) = %d texts, found %d; want found %d", tt.n, len(texts), found, tt.found)
		}
	}
	if _, found := Segment("", 2); found != 0 {
		t.Errorf("empty html found = %d", found)
	}
}
