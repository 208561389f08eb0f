package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// knownContentTypes covers the artifact types the conversion tool emits.
var knownContentTypes = map[string]string{
	".md":   "text/markdown",
	".json": "application/json",
	".html": "text/html",
	".txt":  "text/plain",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".pdf":  "application/pdf",
	".xml":  "application/xml",
}

// contentTypeFor infers a content type from the file extension, falling back
// to content sniffing for extensions outside the known set.
func contentTypeFor(path string) string {
	if ct, ok := knownContentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		return mt.String()
	}
	return "application/octet-stream"
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.Size(), nil
}
