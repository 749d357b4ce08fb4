package marker

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	// DefaultMarkerSize 是生成标记图的默认边长（像素）。
	DefaultMarkerSize = 512
	// DefaultPatternRatio 是内部图案占黑框内区域的默认比例。
	DefaultPatternRatio = 0.5
	whiteMargin         = 0.1
)

// MarkerOptions 控制标记图的生成方式。
type MarkerOptions struct {
	PatternRatio float64
	Size         int
	BorderColor  color.Color
	FullImage    bool
}

func (o MarkerOptions) withDefaults() MarkerOptions {
	if o.PatternRatio <= 0 || o.PatternRatio > 1 {
		o.PatternRatio = DefaultPatternRatio
	}
	if o.Size <= 0 {
		o.Size = DefaultMarkerSize
	}
	if o.BorderColor == nil {
		o.BorderColor = color.Black
	}
	return o
}

// BuildMarker 生成可打印的标记图：白边、黑框、白色内框，再把 inner 缩放后放入中心。
// FullImage 为 true 时直接铺满整张画布。
func BuildMarker(inner image.Image, opts MarkerOptions) *image.NRGBA {
	opts = opts.withDefaults()
	size := opts.Size

	if opts.FullImage {
		return imaging.Resize(inner, size, size, imaging.Lanczos)
	}

	blackMargin := (1 - 2*whiteMargin) * ((1 - opts.PatternRatio) / 2)
	innerMargin := whiteMargin + blackMargin

	canvas := imaging.New(size, size, color.White)
	fillSquare(canvas, whiteMargin, size, opts.BorderColor)
	fillSquare(canvas, innerMargin, size, color.White)

	offset := scaled(innerMargin, size)
	side := size - 2*offset
	if side <= 0 {
		return canvas
	}
	content := imaging.Resize(inner, side, side, imaging.Lanczos)
	return imaging.Paste(canvas, content, image.Pt(offset, offset))
}

func fillSquare(dst draw.Image, margin float64, size int, c color.Color) {
	offset := scaled(margin, size)
	rect := image.Rect(offset, offset, size-offset, size-offset)
	draw.Draw(dst, rect, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func scaled(fraction float64, size int) int {
	return int(math.Round(fraction * float64(size)))
}

// ParseHexColor 解析 #rgb 或 #rrggbb 形式的颜色。
func ParseHexColor(raw string) (color.Color, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return nil, fmt.Errorf("invalid color %q", raw)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q", raw)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
