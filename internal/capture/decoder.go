// Package capture 摄像头扫码：采样循环、帧栅格化与二维码识别
package capture

import (
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Decode 识别一帧中的二维码，无结果时返回 ("", false)
// 纯函数，不保留任何状态
func Decode(img image.Image) (string, bool) {
	if img == nil || img.Bounds().Empty() {
		return "", false
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil || result.GetText() == "" {
		return "", false
	}
	return result.GetText(), true
}
