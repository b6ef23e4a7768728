// Package texsource turns a root TeX file into one self-contained buffer by
// inlining \input and \include directives, confined to a sandbox directory.
package texsource

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DefaultSuffix is appended to extensionless include targets.
const DefaultSuffix = ".tex"

// ErrorKind classifies a ResolveError.
type ErrorKind string

const (
	KindNotFound       ErrorKind = "not_found"
	KindOutsideSandbox ErrorKind = "outside_sandbox"
	KindRead           ErrorKind = "read"
)

// ResolveError is returned when the root document itself cannot be used.
// Problems with nested includes never produce an error; the include is skipped.
type ResolveError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s (%s): %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("resolve %s (%s)", e.Path, e.Kind)
}

func (e *ResolveError) Unwrap() error { return e.Err }

var includeRe = regexp.MustCompile(`^\s*\\(?:input|include)\s*\{([^}]+)\}`)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Resolve returns the fully inlined text of rootPath. Include targets are
// looked up relative to the including file, first literally and then with
// DefaultSuffix, and must lie inside sandboxRoot. A file already inlined
// contributes nothing on later visits, and \endinput lines are dropped.
// Parameters:
//   - rootPath: the document's root TeX file.
//   - sandboxRoot: directory every inlined file must live under.
//
// Returns:
//   - string: the inlined TeX.
//   - error: *ResolveError if the root file is missing, unreadable or outside the sandbox.
func Resolve(rootPath, sandboxRoot string) (string, error) {
	sandbox, err := canonical(sandboxRoot)
	if err != nil {
		return "", &ResolveError{Kind: KindNotFound, Path: sandboxRoot, Err: err}
	}
	root, err := canonical(rootPath)
	if err != nil {
		return "", &ResolveError{Kind: KindNotFound, Path: rootPath, Err: err}
	}
	if !within(root, sandbox) {
		return "", &ResolveError{Kind: KindOutsideSandbox, Path: rootPath}
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", &ResolveError{Kind: KindNotFound, Path: rootPath, Err: err}
	}
	if info.IsDir() {
		return "", &ResolveError{Kind: KindNotFound, Path: rootPath, Err: errors.New("is a directory")}
	}
	text, err := ReadFile(root)
	if err != nil {
		return "", &ResolveError{Kind: KindRead, Path: rootPath, Err: err}
	}

	r := &inliner{sandbox: sandbox, visited: map[string]bool{root: true}}
	return r.expand(text, filepath.Dir(root)), nil
}

type inliner struct {
	sandbox string
	visited map[string]bool
}

func (r *inliner) expand(text, dir string) string {
	var out strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		code := line
		if i := CommentStart(line); i >= 0 {
			code = line[:i]
		}
		if strings.EqualFold(strings.TrimSpace(code), `\endinput`) {
			continue
		}
		r.expandDirectives(&out, line, code, dir)
	}
	return out.String()
}

// expandDirectives inlines the directives that open code, one after another.
// A line whose first directive cannot be resolved is kept verbatim; from a
// later unresolved directive on, the rest of the line is kept. Other trailing
// code after an inlined directive is dropped.
func (r *inliner) expandDirectives(out *strings.Builder, line, code, dir string) {
	rest := code
	for first := true; ; first = false {
		m := includeRe.FindStringSubmatch(rest)
		if m == nil {
			if first {
				out.WriteString(line)
			}
			return
		}
		target, ok := r.lookup(dir, m[1])
		if !ok {
			if first {
				out.WriteString(line)
			} else {
				out.WriteString(strings.TrimSpace(rest) + "\n")
			}
			return
		}
		out.WriteString(r.inline(target))
		rest = rest[len(m[0]):]
	}
}

func (r *inliner) inline(path string) string {
	if r.visited[path] {
		return ""
	}
	r.visited[path] = true

	text, err := ReadFile(path)
	if err != nil {
		return ""
	}
	body := r.expand(text, filepath.Dir(path))
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return body
}

func (r *inliner) lookup(dir, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	base := ref
	if !filepath.IsAbs(base) {
		base = filepath.Join(dir, ref)
	}
	candidates := []string{base}
	if filepath.Ext(base) == "" {
		candidates = append(candidates, base+DefaultSuffix)
	}
	for _, cand := range candidates {
		resolved, err := canonical(cand)
		if err != nil {
			continue
		}
		if info, err := os.Stat(resolved); err != nil || info.IsDir() {
			continue
		}
		if !within(resolved, r.sandbox) {
			continue
		}
		return resolved, true
	}
	return "", false
}

// ReadFile reads a TeX file as UTF-8, falling back to ISO-8859-1 when the
// bytes are not valid UTF-8.
func ReadFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Decode(raw), nil
}

// Decode converts raw TeX bytes to a string.
func Decode(raw []byte) string {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "�")
	}
	return string(decoded)
}

// CommentStart returns the byte offset of the first '%' in line that starts
// a TeX comment, or -1. A '%' preceded by an odd run of backslashes is escaped.
func CommentStart(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != '%' {
			continue
		}
		slashes := 0
		for j := i - 1; j >= 0 && line[j] == '\\'; j-- {
			slashes++
		}
		if slashes%2 == 0 {
			return i
		}
	}
	return -1
}

// Within reports whether path lies inside root after resolving symlinks.
func Within(path, root string) bool {
	p, err := canonical(path)
	if err != nil {
		return false
	}
	r, err := canonical(root)
	if err != nil {
		return false
	}
	return within(p, r)
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// FindOnPath returns the first regular file called name in dirs.
func FindOnPath(name string, dirs ...string) (string, bool) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		cand := filepath.Join(dir, name)
		if info, err := os.Stat(cand); err == nil && !info.IsDir() {
			return cand, true
		}
	}
	return "", false
}
