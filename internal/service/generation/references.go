package generation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ashita-ai/gazou/internal/model"
)

// fallbackMIMEType is assumed when a reference does not sniff as an image.
const fallbackMIMEType = "image/png"

// LoadReferences reads reference images from the local filesystem. Blank
// entries are skipped. Field names in returned errors are 1-based so they
// line up with what the caller passed.
func LoadReferences(paths []string, maxBytes int64) ([]model.Image, error) {
	var cleaned []string
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > model.MaxReferenceImages {
		return nil, &model.ValidationError{Field: "input_image_paths", Code: model.CodeFileCountExceeded,
			Message: fmt.Sprintf("maximum %d input images allowed", model.MaxReferenceImages)}
	}

	images := make([]model.Image, 0, len(cleaned))
	for i, p := range cleaned {
		field := fmt.Sprintf("input_image_path_%d", i+1)
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &model.ValidationError{Field: field, Code: model.CodeInvalidPath,
				Message: fmt.Sprintf("input image %d not found: %s", i+1, p)}
		}
		if err != nil {
			return nil, fmt.Errorf("generation: stat reference %d: %w", i+1, err)
		}
		if !info.Mode().IsRegular() {
			return nil, &model.ValidationError{Field: field, Code: model.CodeInvalidPath,
				Message: fmt.Sprintf("input image %d is not a file: %s", i+1, p)}
		}
		if maxBytes > 0 && info.Size() > maxBytes {
			return nil, &model.ValidationError{Field: field, Code: model.CodeSizeExceeded,
				Message: fmt.Sprintf("input image %d exceeds %d bytes", i+1, maxBytes)}
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("generation: read reference %d: %w", i+1, err)
		}
		images = append(images, SniffImage(data, ""))
	}
	return images, nil
}

// SniffImage pairs data with a MIME type. A declared image/* type wins;
// otherwise the type is detected from content, falling back to PNG.
func SniffImage(data []byte, declared string) model.Image {
	if strings.HasPrefix(declared, "image/") {
		return model.Image{Data: data, MIMEType: declared}
	}
	mime := mimetype.Detect(data).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = fallbackMIMEType
	}
	return model.Image{Data: data, MIMEType: mime}
}
