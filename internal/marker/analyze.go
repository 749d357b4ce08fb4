package marker

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const (
	contrastSample   = 100
	contrastMinDelta = 80
	complexitySample = 50
	minUniqueColors  = 10
	maxUniqueColors  = 200
	squareTolerance  = 0.2
)

// Complexity 描述标记图的细节程度。
type Complexity string

const (
	ComplexityGood       Complexity = "good"
	ComplexityTooSimple  Complexity = "too-simple"
	ComplexityTooComplex Complexity = "too-complex"
)

// Quality 是基于分辨率的粗略评级。
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
)

// Report 汇总一张标记图的可识别性检查结果。
type Report struct {
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	AspectRatio  string     `json:"aspect_ratio"`
	Contrast     float64    `json:"contrast"`
	UniqueColors int        `json:"unique_colors"`
	Complexity   Complexity `json:"complexity"`
	Square       bool       `json:"square"`
	Quality      Quality    `json:"quality"`
	FileSize     string     `json:"file_size,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
}

// GoodContrast 表示明暗差异足够用于跟踪。
func (r Report) GoodContrast() bool {
	return r.Contrast > contrastMinDelta
}

// Analyze 对图像做对比度、复杂度、方正度与分辨率检查，问题以警告形式返回而非错误。
func Analyze(img image.Image) Report {
	bounds := img.Bounds()
	report := Report{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
	report.AspectRatio = aspectRatio(report.Width, report.Height)
	report.Contrast = brightnessSpread(img)
	report.UniqueColors = colorBuckets(img)
	report.Complexity = classifyComplexity(report.UniqueColors)
	report.Square = isSquare(report.Width, report.Height)
	report.Quality = grade(report.Width, report.Height)

	if !report.Square {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("marker is not square (%dx%d), a 1:1 aspect ratio tracks best", report.Width, report.Height))
	}
	if report.Width < 512 || report.Height < 512 {
		report.Warnings = append(report.Warnings,
			"marker resolution is low, detection may be unreliable (1024x1024 recommended)")
	}
	if !report.GoodContrast() {
		report.Warnings = append(report.Warnings,
			"marker has low contrast, use clearly separated dark and light areas")
	}
	switch report.Complexity {
	case ComplexityTooSimple:
		report.Warnings = append(report.Warnings,
			"marker is too simple, add unique detail for stable tracking")
	case ComplexityTooComplex:
		report.Warnings = append(report.Warnings,
			"marker is very complex, consider simplifying the design")
	}
	return report
}

func brightnessSpread(img image.Image) float64 {
	sample := imaging.Resize(img, contrastSample, contrastSample, imaging.Box)
	lo, hi := 255.0, 0.0
	for i := 0; i+3 < len(sample.Pix); i += 4 {
		b := (float64(sample.Pix[i]) + float64(sample.Pix[i+1]) + float64(sample.Pix[i+2])) / 3
		if b < lo {
			lo = b
		}
		if b > hi {
			hi = b
		}
	}
	if hi < lo {
		return 0
	}
	return hi - lo
}

func colorBuckets(img image.Image) int {
	sample := imaging.Resize(img, complexitySample, complexitySample, imaging.Box)
	seen := make(map[int]struct{})
	for i := 0; i+3 < len(sample.Pix); i += 4 {
		key := int(sample.Pix[i]/32)<<6 | int(sample.Pix[i+1]/32)<<3 | int(sample.Pix[i+2]/32)
		seen[key] = struct{}{}
	}
	return len(seen)
}

func classifyComplexity(unique int) Complexity {
	switch {
	case unique < minUniqueColors:
		return ComplexityTooSimple
	case unique > maxUniqueColors:
		return ComplexityTooComplex
	default:
		return ComplexityGood
	}
}

func isSquare(width, height int) bool {
	if height == 0 {
		return false
	}
	ratio := float64(width) / float64(height)
	return ratio-1 <= squareTolerance && 1-ratio <= squareTolerance
}

func grade(width, height int) Quality {
	switch {
	case width >= 1024 && height >= 1024:
		return QualityExcellent
	case width >= 512 && height >= 512:
		return QualityGood
	default:
		return QualityFair
	}
}

func aspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	a, b := width, height
	for b != 0 {
		a, b = b, a%b
	}
	return fmt.Sprintf("%d:%d", width/a, height/a)
}
