package studio

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

type Fit int

const (
	// FitWithin shrinks to fit inside the box and never enlarges.
	FitWithin Fit = iota
	// FitCover fills the box exactly, cropping the centre of the source.
	FitCover
	FitOriginal
)

type Format struct {
	Key    string
	Width  int
	Height int
	Fit    Fit
}

// ExportFormats are rendered in this order.
var ExportFormats = []Format{
	{Key: "instagram_square", Width: 1080, Height: 1080, Fit: FitWithin},
	{Key: "instagram_story", Width: 1080, Height: 1920, Fit: FitCover},
	{Key: "hero_banner", Width: 1920, Height: 1080, Fit: FitCover},
	{Key: "original", Fit: FitOriginal},
}

func (f Format) Render(src image.Image) image.Image {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 {
		return src
	}

	switch f.Fit {
	case FitWithin:
		if sw <= f.Width && sh <= f.Height {
			return src
		}
		scale := math.Min(float64(f.Width)/float64(sw), float64(f.Height)/float64(sh))
		w := max(1, int(math.Round(float64(sw)*scale)))
		h := max(1, int(math.Round(float64(sh)*scale)))
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		return dst

	case FitCover:
		scale := math.Max(float64(f.Width)/float64(sw), float64(f.Height)/float64(sh))
		cw := min(sw, int(math.Round(float64(f.Width)/scale)))
		ch := min(sh, int(math.Round(float64(f.Height)/scale)))
		x0 := b.Min.X + (sw-cw)/2
		y0 := b.Min.Y + (sh-ch)/2
		crop := image.Rect(x0, y0, x0+cw, y0+ch)

		dst := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
		return dst
	}
	return src
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
