package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// SupportedExtensions lists the file extensions the pipeline can load.
var SupportedExtensions = []string{".txt", ".md", ".log", ".csv", ".html", ".htm", ".pdf"}

// checkDocument reports ErrDocumentNotFound for missing paths and directories
// and ErrUnsupportedFormat for extensions with no loader.
func checkDocument(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrDocumentNotFound, path)
	}
	if ext := strings.ToLower(filepath.Ext(path)); !slices.Contains(SupportedExtensions, ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return info, nil
}

// loadAndSplit opens the document, picks a loader by extension and splits
// the result into chunks.
func loadAndSplit(ctx context.Context, path string, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	info, err := checkDocument(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var loader documentloaders.Loader
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md", ".log":
		loader = documentloaders.NewText(f)
	case ".csv":
		loader = documentloaders.NewCSV(f)
	case ".html", ".htm":
		loader = documentloaders.NewHTML(f)
	case ".pdf":
		loader = documentloaders.NewPDF(f, info.Size())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	docs, err := loader.LoadAndSplit(ctx, splitter)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return docs, nil
}

// flattenMetadata renders loader metadata as strings for storage.
func flattenMetadata(source string, md map[string]any) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = fmt.Sprint(v)
	}
	out["source"] = source
	return out
}
