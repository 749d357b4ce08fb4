// Package marker 提供 AR.js 标记相关的工具：.patt 编码、标记图生成与上传图片的质量检查。
package marker

import (
	"image"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// PatternResolution 是 .patt 文件的采样边长。
const PatternResolution = 16

// EncodePattern 把图像编码为 AR.js .patt 文本：四个朝向（0°、逆时针 90°、180°、270°），
// 每个朝向依次输出 B、G、R 三个 16x16 通道块，数值右对齐到 3 位并以空格分隔，
// 朝向之间以空行分隔。
func EncodePattern(img image.Image) string {
	base := imaging.Resize(img, PatternResolution, PatternResolution, imaging.Linear)
	orientations := []*image.NRGBA{
		base,
		imaging.Rotate90(base),
		imaging.Rotate180(base),
		imaging.Rotate270(base),
	}

	var sb strings.Builder
	sb.Grow(len(orientations) * 3 * PatternResolution * PatternResolution * 4)
	for i, frame := range orientations {
		if i > 0 {
			sb.WriteByte('\n')
		}
		writeOrientation(&sb, frame)
	}
	return sb.String()
}

func writeOrientation(sb *strings.Builder, frame *image.NRGBA) {
	for channel := 2; channel >= 0; channel-- {
		for y := 0; y < PatternResolution; y++ {
			for x := 0; x < PatternResolution; x++ {
				if x != 0 {
					sb.WriteByte(' ')
				}
				offset := frame.PixOffset(x, y) + channel
				writePadded(sb, int(frame.Pix[offset]))
			}
			sb.WriteByte('\n')
		}
	}
}

func writePadded(sb *strings.Builder, value int) {
	s := strconv.Itoa(value)
	for i := len(s); i < 3; i++ {
		sb.WriteByte(' ')
	}
	sb.WriteString(s)
}
