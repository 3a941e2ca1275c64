package capture

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Rasterizer 把任意尺寸的帧缩放进固定大小的灰度缓冲区
// 保持宽高比，空白处填白。缓冲区复用，非并发安全
type Rasterizer struct {
	buf *image.Gray
}

// NewRasterizer 创建固定尺寸的栅格化器
func NewRasterizer(width, height int) *Rasterizer {
	return &Rasterizer{buf: image.NewGray(image.Rect(0, 0, width, height))}
}

// Rasterize 返回内部缓冲区，下一次调用会覆盖其内容
func (r *Rasterizer) Rasterize(src image.Image) *image.Gray {
	dst := r.buf
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	sb := src.Bounds()
	if sb.Empty() {
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, fitRect(sb, dst.Bounds()), src, sb, draw.Src, nil)
	return dst
}

// fitRect 在 bounds 内居中放置与 src 等比例的最大矩形
func fitRect(src, bounds image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	bw, bh := bounds.Dx(), bounds.Dy()

	w, h := bw, sh*bw/sw
	if h > bh {
		w, h = sw*bh/sh, bh
	}
	x := bounds.Min.X + (bw-w)/2
	y := bounds.Min.Y + (bh-h)/2
	return image.Rect(x, y, x+w, y+h)
}
