// Package texnorm rewrites inlined TeX into a shape the external HTML
// converter digests. Every pass is a pure, idempotent text rewrite that
// leaves the remainder of commented lines untouched.
package texnorm

import (
	"github.com/timmy/goldmine/internal/texsource"
)

// PipelineVersion tags the render cache checksum. Bump it whenever a pass
// changes its output so every cached render is invalidated.
const PipelineVersion = "goldmine-render/3"

// Pass is one named rewrite step.
type Pass struct {
	Name  string
	Apply func(string) string
}

// Options tunes the passes that depend on the document's surroundings.
type Options struct {
	// SearchDirs are consulted for local .cls and .sty files.
	SearchDirs []string
	// SupportedPackages are packages the converter handles natively.
	// Nil selects DefaultSupportedPackages.
	SupportedPackages []string
	// HintCommands are unwrapped by the unwrap pass. Nil selects DefaultHintCommands.
	HintCommands []string
	// Exists overrides the file lookup used for classes and packages.
	Exists func(file string) bool
}

// DefaultHintCommands are single-argument commands whose content the
// converter would otherwise drop.
var DefaultHintCommands = []string{"hint", "hinweis", "tip", "tipp", "remark"}

// Normalizer runs an ordered list of passes.
type Normalizer struct {
	passes []Pass
}

// New builds the default pipeline.
func New(opts Options) *Normalizer {
	exists := opts.Exists
	if exists == nil {
		dirs := opts.SearchDirs
		exists = func(file string) bool {
			_, ok := texsource.FindOnPath(file, dirs...)
			return ok
		}
	}
	supported := opts.SupportedPackages
	if supported == nil {
		supported = DefaultSupportedPackages
	}
	hints := opts.HintCommands
	if hints == nil {
		hints = DefaultHintCommands
	}

	return &Normalizer{passes: []Pass{
		{Name: "language", Apply: neutralizeLanguage},
		{Name: "latex3", Apply: neutralizeLatex3},
		{Name: "classes", Apply: classesPass(exists, supported)},
		{Name: "subequations", Apply: flattenSubequations},
		{Name: "labels", Apply: moveTrailingLabels},
		{Name: "unwrap", Apply: unwrapPass(hints)},
		{Name: "solutions", Apply: rewriteSolutions},
		{Name: "lists", Apply: rewriteLists},
		{Name: "items", Apply: preserveItemLabels},
		{Name: "wrap", Apply: wrapFragment},
		{Name: "compat", Apply: injectCompat},
	}}
}

// Passes returns the pipeline in execution order.
func (n *Normalizer) Passes() []Pass {
	out := make([]Pass, len(n.passes))
	copy(out, n.passes)
	return out
}

// Normalize applies every pass in order.
func (n *Normalizer) Normalize(tex string) string {
	for _, p := range n.passes {
		tex = p.Apply(tex)
	}
	return tex
}
