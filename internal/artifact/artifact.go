// Package artifact inspects the files a worker leaves on local disk before
// they are archived or attached to a CRM record.
package artifact

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
)

var (
	ErrMissing            = errors.New("artifact file does not exist")
	ErrPathTraversal      = errors.New("artifact path escapes the artifacts directory")
	ErrNationalIDMismatch = errors.New("artifact filename does not contain the applicant national id")
	ErrUnsupported        = errors.New("artifact content is not a supported image or PDF")
	ErrWrongKind          = errors.New("artifact content does not match the expected kind")
)

// Kind is the broad content class of an artifact.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
)

var pdfMagic = []byte("%PDF-")

// Info describes an inspected artifact.
type Info struct {
	Path        string `json:"path"`
	Kind        Kind   `json:"kind"`
	Format      string `json:"format"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Size        int64  `json:"size"`
	MD5         string `json:"md5"`
}

// Inspect sniffs the file at path. Images must decode as PNG, JPEG, GIF or
// WebP; documents must carry the PDF header.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupported, path)
	}

	hash := md5.New()
	br := bufio.NewReader(io.TeeReader(f, hash))
	head, _ := br.Peek(len(pdfMagic))

	info := &Info{Path: path, Size: st.Size()}
	if bytes.Equal(head, pdfMagic) {
		info.Kind = KindPDF
		info.Format = "pdf"
	} else {
		cfg, format, err := image.DecodeConfig(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnsupported, filepath.Base(path), err)
		}
		info.Kind = KindImage
		info.Format = format
		info.Width = cfg.Width
		info.Height = cfg.Height
	}
	info.ContentType = ContentType(info.Format)

	// hash the remainder of the file
	if _, err := io.Copy(io.Discard, br); err != nil {
		return nil, err
	}
	info.MD5 = hex.EncodeToString(hash.Sum(nil))
	return info, nil
}

// InspectAs inspects path and requires it to be of kind want.
func InspectAs(path string, want Kind) (*Info, error) {
	info, err := Inspect(path)
	if err != nil {
		return nil, err
	}
	if info.Kind != want {
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrWrongKind, filepath.Base(path), info.Kind, want)
	}
	return info, nil
}

// ContentType maps a decoder format name to its MIME type.
func ContentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// ResolvePath cleans p and, when root is set, resolves it under root.
// Any ".." segment in p is rejected outright.
func ResolvePath(root, p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrMissing)
	}
	for _, seg := range strings.FieldsFunc(filepath.ToSlash(p), func(r rune) bool { return r == '/' }) {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathTraversal, p)
		}
	}
	if root == "" {
		return filepath.Clean(p), nil
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(absRoot, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(absRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, p)
	}
	return full, nil
}

// MatchesNationalID reports whether the base filename of path contains the
// national id digits.
func MatchesNationalID(path, nationalID string) bool {
	if nationalID == "" {
		return false
	}
	return strings.Contains(filepath.Base(path), nationalID)
}

// Check runs the pre-attachment checks in order: path safety, national id
// cross-check and existence.
func Check(root, path, nationalID string) (string, error) {
	resolved, err := ResolvePath(root, path)
	if err != nil {
		return "", err
	}
	if !MatchesNationalID(resolved, nationalID) {
		return "", fmt.Errorf("%w: %s", ErrNationalIDMismatch, filepath.Base(resolved))
	}
	st, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrMissing, resolved)
		}
		return "", err
	}
	if st.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrMissing, resolved)
	}
	return resolved, nil
}
