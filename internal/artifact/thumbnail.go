package artifact

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	// Registers the WebP decoder; imaging registers the rest.
	_ "golang.org/x/image/webp"
)

// ThumbnailMIMEType is the format of every derived thumbnail.
const ThumbnailMIMEType = "image/jpeg"

const thumbnailQuality = 85

// dimensions reads width and height from the image header without decoding
// the pixel data.
func dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("artifact: decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// thumbnail scales data to fit within maxEdge on its longest side, keeping
// the aspect ratio, and encodes it as JPEG. Images already within bounds are
// re-encoded without scaling.
func thumbnail(data []byte, maxEdge int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("artifact: decode image: %w", err)
	}
	thumb := imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return nil, fmt.Errorf("artifact: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
