package marker

import (
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
)

const (
	// MaxMarkerBytes 是标记图上传的大小上限。
	MaxMarkerBytes int64 = 5 * 1024 * 1024
	// MinMarkerSide 是标记图的最小边长。
	MinMarkerSide = 300
)

var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// ErrInvalidMarker 表示上传的标记图不满足硬性限制。
var ErrInvalidMarker = errors.New("invalid marker image")

// Decode 读取上传的图片并按 EXIF 方向校正。
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarker, err)
	}
	return img, nil
}

// CheckUpload 只检查文件名后缀与大小，可在解码前调用。
func CheckUpload(name string, size int64) error {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := allowedExtensions[ext]; !ok {
		return fmt.Errorf("%w: unsupported format %q, use .jpg, .jpeg or .png", ErrInvalidMarker, ext)
	}
	if size > MaxMarkerBytes {
		return fmt.Errorf("%w: file too large (%s), maximum %s",
			ErrInvalidMarker, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(MaxMarkerBytes)))
	}
	return nil
}

// Validate 检查文件名后缀、大小与最小分辨率，通过后返回带警告的 Report。
func Validate(name string, size int64, img image.Image) (Report, error) {
	if err := CheckUpload(name, size); err != nil {
		return Report{}, err
	}
	if img == nil {
		return Report{}, fmt.Errorf("%w: empty image", ErrInvalidMarker)
	}

	bounds := img.Bounds()
	if bounds.Dx() < MinMarkerSide || bounds.Dy() < MinMarkerSide {
		return Report{}, fmt.Errorf("%w: resolution too small (%dx%d), minimum %dx%d",
			ErrInvalidMarker, bounds.Dx(), bounds.Dy(), MinMarkerSide, MinMarkerSide)
	}

	report := Analyze(img)
	if size > 0 {
		report.FileSize = humanize.IBytes(uint64(size))
	}
	return report, nil
}
