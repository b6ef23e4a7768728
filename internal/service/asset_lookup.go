package service

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/texsource"
)

// ErrAssetNotFound is returned when no candidate file exists for a reference.
var ErrAssetNotFound = errors.New("asset not found")

var (
	implicitExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".pdf"}
	figureFolders      = []string{"images", "image", "fig", "figs", "figure", "figures", "img", "imgs"}
)

// AssetLocator maps image references found in rendered HTML to files,
// preferring the converter's harvested assets over the TeX sources.
type AssetLocator struct {
	DocumentRoot string
	AssetRoot    string
}

// cleanRef drops query, fragment and leading slashes. Root-relative
// references are treated as sandbox relative.
func cleanRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if unescaped, err := url.PathUnescape(ref); err == nil {
		ref = unescaped
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return strings.TrimLeft(filepath.ToSlash(ref), "/")
}

// Locate returns the file for ref of doc.
func (l *AssetLocator) Locate(doc *domain.Document, ref string) (string, error) {
	ref = cleanRef(ref)
	if ref == "" {
		return "", ErrAssetNotFound
	}
	if path, ok := l.rendered(doc.ID, ref); ok {
		return path, nil
	}
	return l.source(doc, ref)
}

func (l *AssetLocator) rendered(id uint, ref string) (string, bool) {
	if l.AssetRoot == "" {
		return "", false
	}
	root := filepath.Join(l.AssetRoot, strconv.FormatUint(uint64(id), 10))
	return firstFile(root, variants(filepath.Join(root, filepath.FromSlash(ref)), false))
}

func (l *AssetLocator) source(doc *domain.Document, ref string) (string, error) {
	if doc.SemesterPath == "" || doc.TexFile == "" {
		return "", ErrAssetNotFound
	}
	sandbox := filepath.Join(l.DocumentRoot, filepath.FromSlash(doc.SemesterPath))
	texDir := filepath.Dir(filepath.Join(sandbox, filepath.FromSlash(doc.TexFile)))
	base := filepath.FromSlash(ref)
	name := filepath.Base(base)
	bare := !strings.Contains(ref, "/")

	var candidates []string
	dirs := ancestors(texDir, sandbox)
	for _, dir := range dirs {
		candidates = append(candidates, variants(filepath.Join(dir, base), true)...)
	}
	if bare {
		for _, dir := range dirs {
			for _, folder := range figureFolders {
				candidates = append(candidates, variants(filepath.Join(dir, folder, base), true)...)
			}
		}
	} else {
		for _, dir := range dirs {
			candidates = append(candidates, variants(filepath.Join(dir, name), true)...)
			for _, folder := range figureFolders {
				candidates = append(candidates, variants(filepath.Join(dir, folder, name), true)...)
			}
		}
	}
	if path, ok := firstFile(sandbox, candidates); ok {
		return path, nil
	}
	return "", ErrAssetNotFound
}

// ancestors returns dir and its parents up to and including stop. A dir
// outside stop yields just dir.
func ancestors(dir, stop string) []string {
	stop = filepath.Clean(stop)
	out := []string{filepath.Clean(dir)}
	if !insideRoot(stop, dir) {
		return out
	}
	for cur := filepath.Clean(dir); cur != stop; {
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
		out = append(out, cur)
	}
	return out
}

// variants expands an extensionless path with the usual image extensions.
// With postscript set, .eps and .ps references prefer converted PDFs.
func variants(p string, postscript bool) []string {
	ext := strings.ToLower(filepath.Ext(p))
	stem := strings.TrimSuffix(p, filepath.Ext(p))
	switch {
	case ext == "":
		out := []string{p}
		for _, e := range implicitExtensions {
			out = append(out, p+e)
		}
		if postscript {
			out = append(out, p+"-eps-converted-to.pdf", p+".eps-converted-to.pdf")
		}
		return out
	case postscript && (ext == ".eps" || ext == ".ps"):
		return []string{stem + ".pdf", stem + "-eps-converted-to.pdf", stem + ".eps-converted-to.pdf", p}
	}
	return []string{p}
}

// firstFile returns the first candidate that is a regular file inside root,
// matching the file name case-insensitively when the exact name is missing.
func firstFile(root string, candidates []string) (string, bool) {
	for _, cand := range candidates {
		path := cand
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			alt, ok := caseInsensitive(cand)
			if !ok {
				continue
			}
			path = alt
		}
		if texsource.Within(path, root) {
			return path, true
		}
	}
	return "", false
}

func caseInsensitive(path string) (string, bool) {
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return "", false
	}
	want := strings.ToLower(filepath.Base(path))
	for _, e := range entries {
		if !e.IsDir() && strings.ToLower(e.Name()) == want {
			return filepath.Join(filepath.Dir(path), e.Name()), true
		}
	}
	return "", false
}
