package service

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/timmy/goldmine/internal/domain"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(filepath.Base(path)), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAssetLocator_Locate(t *testing.T) {
	docRoot := t.TempDir()
	assetRoot := t.TempDir()
	sandbox := filepath.Join(docRoot, "ws24")

	touch(t, filepath.Join(sandbox, "blatt03", "sheet.tex"))
	touch(t, filepath.Join(sandbox, "blatt03", "graph.png"))
	touch(t, filepath.Join(assetRoot, "4", "graph.png"))
	touch(t, filepath.Join(sandbox, "blatt03", "diagram-eps-converted-to.pdf"))
	touch(t, filepath.Join(sandbox, "shared", "logo.svg"))
	touch(t, filepath.Join(sandbox, "blatt03", "img", "tree.png"))
	touch(t, filepath.Join(sandbox, "blatt03", "Photo.JPG"))
	touch(t, filepath.Join(sandbox, "common.png"))
	touch(t, filepath.Join(docRoot, "secret.png"))

	l := &AssetLocator{DocumentRoot: docRoot, AssetRoot: assetRoot}
	doc := &domain.Document{ID: 4, SemesterPath: "ws24", TexFile: "blatt03/sheet.tex"}

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"rendered asset wins", "graph.png", filepath.Join(assetRoot, "4", "graph.png")},
		{"converted postscript", "diagram.eps", filepath.Join(sandbox, "blatt03", "diagram-eps-converted-to.pdf")},
		{"extensionless", "/diagram", filepath.Join(sandbox, "blatt03", "diagram-eps-converted-to.pdf")},
		{"figure folder", "tree", filepath.Join(sandbox, "blatt03", "img", "tree.png")},
		{"ancestor directory", "common", filepath.Join(sandbox, "common.png")},
		{"relative subdirectory", "../shared/logo.svg", filepath.Join(sandbox, "shared", "logo.svg")},
		{"case insensitive", "photo.jpg", filepath.Join(sandbox, "blatt03", "Photo.JPG")},
		{"query stripped", "tree.png?v=2", filepath.Join(sandbox, "blatt03", "img", "tree.png")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Locate(doc, tt.ref)
			if err != nil {
				t.Fatalf("Locate(%q) error = %v", tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("Locate(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}

	for _, ref := range []string{"", "missing.png", "../../secret.png", "../../../secret"} {
		if _, err := l.Locate(doc, ref); !errors.Is(err, ErrAssetNotFound) {
			t.Errorf("Locate(%q) error = %v, want ErrAssetNotFound", ref, err)
		}
	}
}
