// internal/imaging/compress.go
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxUploadBytes is the largest file accepted from a picker or drop.
	MaxUploadBytes = 10 << 20
	// MaxWidth bounds the stored image width; narrower images keep their size.
	MaxWidth = 1024
	// Quality is the JPEG quality used for every stored image.
	Quality = 70
	// MaxPixels bounds the decoded size of any image, whatever its file size.
	MaxPixels = 40_000_000

	OutputMIME = "image/jpeg"
)

var (
	ErrNotImage      = errors.New("please upload an image file")
	ErrTooLarge      = fmt.Errorf("image is larger than %d MB", MaxUploadBytes>>20)
	ErrTooManyPixels = fmt.Errorf("image is larger than %d megapixels", MaxPixels/1_000_000)
	ErrDecode        = errors.New("failed to load image")
)

// Validate checks that data is an image within the size ceiling and returns its
// detected MIME type. The declared type, when given, must also be an image type.
func Validate(data []byte, declaredMIME string) (string, error) {
	if declaredMIME != "" && !strings.HasPrefix(strings.ToLower(declaredMIME), "image/") {
		return "", ErrNotImage
	}
	if len(data) > MaxUploadBytes {
		return "", ErrTooLarge
	}
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", ErrNotImage
	}
	return detected.String(), nil
}

// TargetSize scales (w, h) down to maxWidth keeping the aspect ratio.
func TargetSize(w, h, maxWidth int) (int, int) {
	if w <= maxWidth || w == 0 {
		return w, h
	}
	nh := int(float64(h)*float64(maxWidth)/float64(w) + 0.5)
	if nh < 1 {
		nh = 1
	}
	return maxWidth, nh
}

// Compress downsizes img to MaxWidth, optionally mirrors it horizontally, and
// encodes it as JPEG.
func Compress(img image.Image, mirror bool) ([]byte, error) {
	b := img.Bounds()
	w, h := TargetSize(b.Dx(), b.Dy(), MaxWidth)
	if w == 0 || h == 0 {
		return nil, ErrDecode
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	if mirror {
		flipHorizontal(dst)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func flipHorizontal(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i, j := 0, len(row)-4; i < j; i, j = i+4, j-4 {
			for k := 0; k < 4; k++ {
				row[i+k], row[j+k] = row[j+k], row[i+k]
			}
		}
	}
}

// Process reads an uploaded file, validates it and returns the compressed JPEG.
func Process(r io.Reader, declaredMIME string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if _, err := Validate(data, declaredMIME); err != nil {
		return nil, err
	}

	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	return Compress(img, false)
}

// decode reads the header first and refuses images whose pixel count exceeds
// MaxPixels before any pixel buffer is allocated.
func decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrDecode
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, ErrTooManyPixels
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// DataURL renders JPEG bytes as an inline data URL for history storage.
func DataURL(jpegData []byte) string {
	return "data:" + OutputMIME + ";base64," + base64.StdEncoding.EncodeToString(jpegData)
}

// DecodeDataURL accepts a data URL or bare base64 and returns the raw bytes.
func DecodeDataURL(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	return data, nil
}
