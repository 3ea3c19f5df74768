package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"io"
	"mime"
	"net/http"
	"strings"

	"tracehub/internal/models"
	"tracehub/internal/observability"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	DefaultImageMaxUploadSizeMB = 10
	MasterMaxSize               = 2048
	JPEGQuality                 = 82
	WebPQuality                 = 70
)

// PreparedImage is an upload re-encoded into the two master formats.
type PreparedImage struct {
	JPEG   []byte
	WebP   []byte
	Width  int
	Height int
}

// PrepareImage validates an upload and re-encodes it, scaled to fit MasterMaxSize
// without cropping. Only rejections of the input are returned as validation errors.
func PrepareImage(in *models.ImageUpload, maxBytes int64) (*PreparedImage, error) {
	if in == nil || len(in.Content) == 0 {
		return nil, models.NewValidationError("No file uploaded")
	}
	if maxBytes > 0 && int64(len(in.Content)) > maxBytes {
		return nil, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", maxBytes>>20))
	}

	sniffed := mediaType(http.DetectContentType(in.Content))
	if _, ok := acceptedTypes[sniffed]; !ok {
		return nil, models.NewValidationError("Invalid image type")
	}
	decoded, format, err := image.Decode(bytes.NewReader(in.Content))
	if err != nil {
		return nil, models.NewValidationError("Invalid image file")
	}
	// A declared type is optional, but when given it must agree with the bytes.
	if declared := mediaType(in.ContentType); strings.HasPrefix(declared, "image/") &&
		declared != acceptedFormats[format] {
		return nil, models.NewValidationError("Image content type mismatch")
	}

	master := resizeToFit(decoded, MasterMaxSize)
	out := &PreparedImage{Width: master.Bounds().Dx(), Height: master.Bounds().Dy()}
	if out.JPEG, err = encode(master, func(w io.Writer, m image.Image) error {
		return jpeg.Encode(w, m, &jpeg.Options{Quality: JPEGQuality})
	}); err != nil {
		return nil, models.NewInternalError(fmt.Errorf("encode jpeg: %w", err))
	}
	if out.WebP, err = encode(master, func(w io.Writer, m image.Image) error {
		return webp.Encode(w, m, &webp.Options{Quality: WebPQuality})
	}); err != nil {
		return nil, models.NewInternalError(fmt.Errorf("encode webp: %w", err))
	}
	return out, nil
}

// StoreImage writes both masters under a fresh key and returns the JPEG URL.
func StoreImage(ctx context.Context, store ObjectStore, img *PreparedImage) (string, error) {
	base := "items/" + uuid.NewString()
	url, err := store.Put(ctx, base+".jpg", img.JPEG, "image/jpeg")
	if err != nil {
		return "", err
	}
	if _, err := store.Put(ctx, base+".webp", img.WebP, "image/webp"); err != nil {
		return "", err
	}
	observability.ImageBytesStored.Observe(float64(len(img.JPEG)))
	return url, nil
}

// resizeToFit scales src down so its longer side is at most limit.
func resizeToFit(src image.Image, limit int) image.Image {
	r := src.Bounds()
	longest := max(r.Dx(), r.Dy())
	if r.Empty() || longest <= limit {
		return src
	}
	w := max(r.Dx()*limit/longest, 1)
	h := max(r.Dy()*limit/longest, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, r, xdraw.Over, nil)
	return dst
}

func encode(img image.Image, enc func(io.Writer, image.Image) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := enc(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// acceptedFormats maps image.Decode format names to media types.
var acceptedFormats = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

var acceptedTypes = map[string]struct{}{
	"image/jpeg": {}, "image/png": {}, "image/gif": {}, "image/webp": {},
}

// mediaType lowercases a Content-Type and drops its parameters. image/jpg is
// read as image/jpeg.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "image/jpg" {
		return "image/jpeg"
	}
	return mt
}
