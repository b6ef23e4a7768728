package service

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/storage"
)

// AssetMirror copies a document's rendered assets into object storage so
// they can be served from a bucket or CDN.
type AssetMirror struct {
	store     storage.ObjectStorage
	assetRoot string
	prefix    string
}

// NewAssetMirror returns nil when store is nil.
func NewAssetMirror(store storage.ObjectStorage, assetRoot, prefix string) *AssetMirror {
	if store == nil {
		return nil
	}
	return &AssetMirror{store: store, assetRoot: assetRoot, prefix: prefix}
}

// Sync uploads every asset in rel (paths relative to the document's asset
// directory) and deletes keys of the document that are no longer produced.
func (m *AssetMirror) Sync(ctx context.Context, documentID uint, rel []string) (int, error) {
	dir := filepath.Join(m.assetRoot, strconv.FormatUint(uint64(documentID), 10))
	keep := make(map[string]bool, len(rel))
	uploaded := 0
	for _, r := range rel {
		key := storage.AssetKey(m.prefix, documentID, r)
		keep[key] = true
		if err := m.upload(ctx, filepath.Join(dir, filepath.FromSlash(r)), key); err != nil {
			return uploaded, err
		}
		uploaded++
	}

	existing, err := m.store.List(ctx, storage.AssetKey(m.prefix, documentID, "")+"/")
	if err != nil {
		return uploaded, fmt.Errorf("list mirrored assets: %w", err)
	}
	for _, key := range existing {
		if keep[key] {
			continue
		}
		if err := m.store.Delete(ctx, key); err != nil {
			logger.CtxWarn(ctx, "Failed to delete stale asset %s: %v", key, err)
		}
	}
	return uploaded, nil
}

// URL returns the public URL of a mirrored asset.
func (m *AssetMirror) URL(documentID uint, rel string) string {
	return m.store.GetURL(storage.AssetKey(m.prefix, documentID, rel))
}

// PathURL returns the public URL of the local file path when it lies in the
// document's rendered asset directory, which is the part that gets mirrored.
func (m *AssetMirror) PathURL(documentID uint, path string) (string, bool) {
	dir := filepath.Join(m.assetRoot, strconv.FormatUint(uint64(documentID), 10))
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return m.URL(documentID, filepath.ToSlash(rel)), true
}

func (m *AssetMirror) upload(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open asset: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat asset: %w", err)
	}
	return m.store.Upload(ctx, key, f, info.Size(), contentType(path))
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".eps" {
		return "application/postscript"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
