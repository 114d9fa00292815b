// Package validate applies the upload policy: extension allow-list, size cap,
// filename sanitizing, content sniffing and password rules.
package validate

import (
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/passhash"
	pdfutil "github.com/dharsanguruparan/lockdrop/internal/pdf"
)

// Rejection reasons. They appear in events and in error responses.
const (
	ReasonMissingFile     = "missing_file"
	ReasonEmptyFile       = "empty_file"
	ReasonSize            = "size"
	ReasonFilename        = "filename"
	ReasonExtension       = "extension"
	ReasonMIME            = "mime"
	ReasonPDF             = "pdf"
	ReasonMissingPassword = "missing_password"
	ReasonPasswordLength  = "password_length"
)

// sniffed lists the http.DetectContentType results accepted per extension.
// Entries ending in "/" match by prefix. Extensions that are allowed but not
// listed here skip the sniff check.
var sniffed = map[string][]string{
	"txt":  {"text/"},
	"pdf":  {"application/pdf"},
	"png":  {"image/png"},
	"jpg":  {"image/jpeg"},
	"jpeg": {"image/jpeg"},
	"gif":  {"image/gif"},
	"zip":  {"application/zip"},
	"docx": {"application/zip"},
	"xlsx": {"application/zip"},
	// Legacy OLE documents have no signature in the sniffing table.
	"doc": {"application/octet-stream"},
	"xls": {"application/octet-stream"},
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// Policy is an upload rule set.
type Policy struct {
	allowed map[string]bool
	maxSize int64
}

// NewPolicy builds a Policy from lower-case extensions without dots.
func NewPolicy(extensions []string, maxSize int64) *Policy {
	allowed := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		allowed[strings.TrimPrefix(strings.ToLower(e), ".")] = true
	}
	return &Policy{allowed: allowed, maxSize: maxSize}
}

// MaxSize is the largest accepted file in bytes.
func (p *Policy) MaxSize() int64 { return p.maxSize }

// Checked is what an accepted upload looks like after validation.
type Checked struct {
	Name        string
	Extension   string
	ContentType string
}

// Check validates a candidate upload. Every rejection is an
// *errs.ValidationError.
func (p *Policy) Check(filename string, data []byte, password string) (Checked, error) {
	if filename == "" && data == nil {
		return Checked{}, errs.Invalid(ReasonMissingFile, "no file part in request")
	}
	name := SanitizeFilename(filename)
	if name == "" {
		return Checked{}, errs.Invalid(ReasonFilename, "invalid file name")
	}
	ext := Extension(name)
	if ext == "" || !p.allowed[ext] {
		return Checked{}, errs.Invalid(ReasonExtension, "file type not allowed")
	}
	if len(data) == 0 {
		return Checked{}, errs.Invalid(ReasonEmptyFile, "file is empty")
	}
	if int64(len(data)) > p.maxSize {
		return Checked{}, errs.Invalid(ReasonSize, fmt.Sprintf("file exceeds %d bytes", p.maxSize))
	}
	if password == "" {
		return Checked{}, errs.Invalid(ReasonMissingPassword, "password is required")
	}
	if len(password) > passhash.MaxSecretBytes {
		return Checked{}, errs.Invalid(ReasonPasswordLength, fmt.Sprintf("password must be at most %d bytes", passhash.MaxSecretBytes))
	}
	ct := http.DetectContentType(data)
	if !compatible(ext, ct) {
		return Checked{}, errs.Invalid(ReasonMIME, fmt.Sprintf("content does not look like .%s", ext))
	}
	if ext == "pdf" {
		if _, err := pdfutil.PageCount(data); err != nil {
			return Checked{}, errs.Invalid(ReasonPDF, "file is not a readable PDF")
		}
	}
	return Checked{Name: name, Extension: ext, ContentType: ct}, nil
}

func compatible(ext, detected string) bool {
	want, ok := sniffed[ext]
	if !ok {
		return true
	}
	for _, w := range want {
		if strings.HasSuffix(w, "/") {
			if strings.HasPrefix(detected, w) {
				return true
			}
			continue
		}
		if detected == w || strings.HasPrefix(detected, w+";") {
			return true
		}
	}
	return false
}

// SanitizeFilename keeps only the base name, replaces anything outside
// [A-Za-z0-9_.-] with "_" and drops leading dots and underscores.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	return strings.TrimLeft(name, "._")
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}
