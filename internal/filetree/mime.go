package filetree

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const defaultMimeType = "application/octet-stream"

// defaultOverrides maps the extensions found in research compendia. Other
// files are classified by content.
var defaultOverrides = map[string]string{
	".r":       "script/x-R",
	".rmd":     "text/x-markdown",
	".md":      "text/markdown",
	".yml":     "text/yaml",
	".yaml":    "text/yaml",
	".csv":     "text/csv",
	".txt":     "text/plain",
	".tex":     "text/x-tex",
	".bib":     "text/x-bibtex",
	".py":      "script/x-python",
	".sh":      "script/x-sh",
	".json":    "application/json",
	".html":    "text/html",
	".htm":     "text/html",
	".rdata":   "application/x-r-data",
	".rda":     "application/x-r-data",
	".rds":     "application/x-r-data",
	".nc":      "application/x-netcdf",
	".tif":     "image/tiff",
	".tiff":    "image/tiff",
	".xml":     "text/xml",
	".css":     "text/css",
	".js":      "text/javascript",
	".geojson": "application/geo+json",
	".pdf":     "application/pdf",
	".zip":     "application/zip",
	".png":     "image/png",
	".jpg":     "image/jpeg",
	".jpeg":    "image/jpeg",
	".gif":     "image/gif",
	".svg":     "image/svg+xml",
}

// Classifier derives MIME types from a fixed extension table, falling back
// to content sniffing. The result does not depend on the host's MIME
// configuration.
type Classifier struct {
	overrides map[string]string
}

// NewClassifier merges extra extension overrides over the defaults.
// Keys are matched case-insensitively, with or without the leading dot.
func NewClassifier(extra map[string]string) *Classifier {
	overrides := make(map[string]string, len(defaultOverrides)+len(extra))
	for ext, t := range defaultOverrides {
		overrides[ext] = t
	}
	for ext, t := range extra {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		overrides[ext] = t
	}
	return &Classifier{overrides: overrides}
}

// Classify returns the MIME type of the file at path without parameters.
func (c *Classifier) Classify(path string) string {
	if t := c.ByExtension(path); t != "" {
		return t
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return defaultMimeType
	}
	return stripParams(m.String())
}

// ByExtension classifies by extension only and returns "" when unknown.
func (c *Classifier) ByExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ""
	}
	return c.overrides[ext]
}

// IsText reports whether content of this type is read into the index.
func IsText(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text") || strings.HasPrefix(mimeType, "script")
}

func stripParams(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
