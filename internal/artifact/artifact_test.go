package artifact

import (
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 lossless WebP
const tinyWebP = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()

	pngPath := filepath.Join(dir, "aprovacao-12345678901.png")
	writePNG(t, pngPath)
	info, err := Inspect(pngPath)
	require.NoError(t, err)
	assert.Equal(t, KindImage, info.Kind)
	assert.Equal(t, "png", info.Format)
	assert.Equal(t, "image/png", info.ContentType)
	assert.Equal(t, 4, info.Width)
	assert.Equal(t, 3, info.Height)
	assert.Len(t, info.MD5, 32)

	webpBytes, err := base64.StdEncoding.DecodeString(tinyWebP)
	require.NoError(t, err)
	webpPath := filepath.Join(dir, "aprovacao.webp")
	require.NoError(t, os.WriteFile(webpPath, webpBytes, 0o644))
	info, err = Inspect(webpPath)
	require.NoError(t, err)
	assert.Equal(t, "webp", info.Format)
	assert.Equal(t, 1, info.Width)

	pdfPath := filepath.Join(dir, "boleto.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4\n%%EOF\n"), 0o644))
	info, err = InspectAs(pdfPath, KindPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", info.ContentType)
	assert.EqualValues(t, 15, info.Size)

	_, err = InspectAs(pdfPath, KindImage)
	assert.ErrorIs(t, err, ErrWrongKind)

	txtPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("hello"), 0o644))
	_, err = Inspect(txtPath)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Inspect(filepath.Join(dir, "absent.png"))
	assert.ErrorIs(t, err, ErrMissing)
}

func TestMatchesNationalID(t *testing.T) {
	assert.True(t, MatchesNationalID("/data/boleto-12345678901-999.pdf", "12345678901"))
	assert.False(t, MatchesNationalID("/data/boleto-12345678901-999.pdf", "11122233344"))
	assert.False(t, MatchesNationalID("/12345678901/boleto.pdf", "12345678901"))
	assert.False(t, MatchesNationalID("/data/boleto.pdf", ""))
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()

	got, err := ResolvePath(root, "boleto.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "boleto.pdf"), got)

	_, err = ResolvePath(root, "../etc/passwd")
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = ResolvePath(root, "/etc/passwd")
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = ResolvePath("", "a/../../b")
	assert.ErrorIs(t, err, ErrPathTraversal)

	got, err = ResolvePath("", "/tmp/./x.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/tmp/x.png"), got)
}

func TestCheck(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "boleto-12345678901-999.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7"), 0o644))

	got, err := Check(root, path, "12345678901")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = Check(root, path, "11122233344")
	assert.ErrorIs(t, err, ErrNationalIDMismatch)

	_, err = Check(root, filepath.Join(root, "boleto-12345678901-000.pdf"), "12345678901")
	assert.ErrorIs(t, err, ErrMissing)
}
