package gx

import (
	"bytes"
	"errors"
	"image"
	"image/color"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// ThumbnailEdge is the edge length of the thumbnail bitmap expected by the firmware.
const ThumbnailEdge = 320

var errNilImage = errors.New("gx: nil thumbnail image")

// BitmapFromImage scales img to fit a ThumbnailEdge square on a white
// background, keeping its aspect ratio, and returns it BMP-encoded.
func BitmapFromImage(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errNilImage
	}

	dst := image.NewRGBA(image.Rect(0, 0, ThumbnailEdge, ThumbnailEdge))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	src := img.Bounds()
	if src.Dx() > 0 && src.Dy() > 0 {
		w, h := ThumbnailEdge, ThumbnailEdge
		if src.Dx() > src.Dy() {
			h = ThumbnailEdge * src.Dy() / src.Dx()
		} else {
			w = ThumbnailEdge * src.Dx() / src.Dy()
		}
		x0 := (ThumbnailEdge - w) / 2
		y0 := (ThumbnailEdge - h) / 2
		draw.ApproxBiLinear.Scale(dst, image.Rect(x0, y0, x0+w, y0+h), img, src, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := bmp.Encode(&buf, dst); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
