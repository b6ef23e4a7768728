package texnorm

import (
	"regexp"
	"strings"
)

// latex3Packages crash the converter or depend on expl3.
var latex3Packages = map[string]bool{
	"siunitx":      true,
	"mhchem":       true,
	"chemformula":  true,
	"tensor":       true,
	"expl3":        true,
	"xparse":       true,
	"l3keys2e":     true,
	"fontspec":     true,
	"unicode-math": true,
}

const unitArg = `\{((?:[^{}]|\{[^{}]*\})*)\}`

var (
	quantityRe = regexp.MustCompile(`\\(?:SI|qty)\s*(?:\[[^\]]*\])?\s*\{([^{}]*)\}\s*(?:\[[^\]]*\])?\s*` + unitArg)
	unitRe     = regexp.MustCompile(`\\(?:si|unit)\s*(?:\[[^\]]*\])?\s*` + unitArg)
	numRe      = regexp.MustCompile(`\\num\s*(?:\[[^\]]*\])?\s*\{([^{}]*)\}`)
	angRe      = regexp.MustCompile(`\\ang\s*(?:\[[^\]]*\])?\s*\{([^{}]*)\}`)
	unitTokRe  = regexp.MustCompile(`\\[a-zA-Z]+|[^\\]+`)
)

// neutralizeLatex3 drops expl3 based packages. Quantities from siunitx are
// collapsed to "value unit" text; whatever the rewrite misses is caught by
// the stand-in macros of the compat block.
func neutralizeLatex3(text string) string {
	text = filterPackages(text, func(pkg string) bool { return latex3Packages[pkg] })
	text = replaceCode(text, quantityRe, func(m []int) string {
		return strings.TrimSpace(group(text, m, 1)) + `\,` + siUnits(group(text, m, 2))
	})
	text = replaceCode(text, unitRe, func(m []int) string {
		return siUnits(group(text, m, 1))
	})
	text = replaceCode(text, numRe, func(m []int) string {
		return strings.TrimSpace(group(text, m, 1))
	})
	text = replaceCode(text, angRe, func(m []int) string {
		return strings.TrimSpace(group(text, m, 1)) + `\ensuremath{^\circ}`
	})
	return text
}

var siPrefixes = map[string]string{
	"yocto": "y", "zepto": "z", "atto": "a", "femto": "f", "pico": "p",
	"nano": "n", "micro": `\ensuremath{\mu}`, "milli": "m", "centi": "c",
	"deci": "d", "deca": "da", "hecto": "h", "kilo": "k", "mega": "M",
	"giga": "G", "tera": "T", "peta": "P",
}

var siUnitNames = map[string]string{
	"metre": "m", "meter": "m", "second": "s", "gram": "g", "kilogram": "kg",
	"ampere": "A", "kelvin": "K", "mole": "mol", "candela": "cd",
	"hertz": "Hz", "newton": "N", "pascal": "Pa", "joule": "J", "watt": "W",
	"coulomb": "C", "volt": "V", "ohm": `\ensuremath{\Omega}`, "farad": "F",
	"tesla": "T", "henry": "H", "weber": "Wb", "siemens": "S",
	"becquerel": "Bq", "gray": "Gy", "sievert": "Sv", "lumen": "lm", "lux": "lx",
	"electronvolt": "eV", "litre": "L", "liter": "L", "bar": "bar",
	"angstrom": `\AA{}`, "minute": "min", "hour": "h", "day": "d",
	"radian": "rad", "steradian": "sr", "degree": `\ensuremath{^\circ}`,
	"degreeCelsius": `\ensuremath{^\circ}C`, "percent": `\%`, "dalton": "Da",
	"atomicmassunit": "u", "barn": "b", "elementarycharge": "e",
}

// siUnits renders a siunitx unit specification as plain text.
func siUnits(spec string) string {
	spec = strings.TrimSpace(spec)
	if !strings.Contains(spec, `\`) {
		return spec
	}
	var out strings.Builder
	prevUnit := false
	pending := ""
	for _, tok := range unitTokRe.FindAllString(spec, -1) {
		if !strings.HasPrefix(tok, `\`) {
			out.WriteString(strings.TrimSpace(tok))
			prevUnit = false
			continue
		}
		name := tok[1:]
		switch {
		case name == "per":
			out.WriteString("/")
			prevUnit = false
		case name == "squared" || name == "cubed":
			out.WriteString(power(name))
		case name == "square" || name == "cubic":
			pending = power(name)
		case siPrefixes[name] != "":
			if prevUnit {
				out.WriteString(`\,`)
			}
			out.WriteString(siPrefixes[name])
			prevUnit = false
		case siUnitNames[name] != "":
			if prevUnit {
				out.WriteString(`\,`)
			}
			out.WriteString(siUnitNames[name])
			out.WriteString(pending)
			pending = ""
			prevUnit = true
		default:
			out.WriteString(tok)
			prevUnit = false
		}
	}
	return out.String()
}

func power(name string) string {
	if name == "squared" || name == "square" {
		return `\ensuremath{^{2}}`
	}
	return `\ensuremath{^{3}}`
}
