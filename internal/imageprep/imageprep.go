// Package imageprep decodes captured camera frames and shrinks them before they
// are sent to the biometric service.
package imageprep

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/school-attendance/internal/constants"
)

// ErrInvalidImage is returned for payloads that are not a decodable base64 image.
var ErrInvalidImage = errors.New("invalid image")

// DecodeBase64 accepts raw base64 (padded or not) and data URIs such as
// "data:image/jpeg;base64,...".
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return data, nil
}

// PrepareBase64 validates a base64 frame and returns a base64 JPEG no larger than
// maxSize on either side. Frames already within bounds are returned as sent.
func PrepareBase64(s string, maxSize int) (string, error) {
	if maxSize <= 0 {
		maxSize = constants.MaxImageSize
	}
	data, err := DecodeBase64(s)
	if err != nil {
		return "", err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= maxSize && cfg.Height <= maxSize {
		return base64.StdEncoding.EncodeToString(data), nil
	}

	resized, err := ResizeImage(data, maxSize)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(resized), nil
}

// ResizeImage resizes an image to fit within maxSize (width or height) while keeping aspect ratio.
func ResizeImage(data []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		return data, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: constants.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}
