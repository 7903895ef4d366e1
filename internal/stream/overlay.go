package stream

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"peoplecounter/internal/occupancy"
)

var (
	boxColor    = color.RGBA{255, 55, 0, 255}
	statusColor = color.RGBA{255, 255, 255, 255}
)

// ToRGBA returns img as an RGBA copy that can be drawn on
func ToRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}

// Annotate draws a box for every detection above threshold and an optional
// status line in the top-left corner. Boxes are in normalized coordinates.
func Annotate(img image.Image, detections []occupancy.Detection, threshold float64, status string) *image.RGBA {
	rgba := ToRGBA(img)
	bounds := rgba.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())

	for _, det := range occupancy.Accepted(detections, threshold) {
		x1 := bounds.Min.X + int(det.Box.X1*w)
		y1 := bounds.Min.Y + int(det.Box.Y1*h)
		x2 := bounds.Min.X + int(det.Box.X2*w)
		y2 := bounds.Min.Y + int(det.Box.Y2*h)
		drawBox(rgba, x1, y1, x2-x1, y2-y1, boxColor, 2)
		drawLabel(rgba, x1, y1-15, fmt.Sprintf("person %.0f%%", det.Score*100), boxColor)
	}

	if status != "" {
		drawLabel(rgba, bounds.Min.X+4, bounds.Min.Y+4, status, statusColor)
	}
	return rgba
}

// drawBox draws a rectangle outline clipped to the image
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	b := img.Bounds()
	set := func(px, py int) {
		if image.Pt(px, py).In(b) {
			img.SetRGBA(px, py, c)
		}
	}

	for t := 0; t < thickness; t++ {
		for i := x; i < x+w; i++ {
			set(i, y+t)
			set(i, y+h-t)
		}
		for j := y; j < y+h; j++ {
			set(x+t, j)
			set(x+w-t, j)
		}
	}
}

// drawLabel draws text on a dark background
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	b := img.Bounds()
	if y < b.Min.Y {
		y = b.Min.Y
	}
	if x < b.Min.X {
		x = b.Min.X
	}

	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			if p := image.Pt(x+dx, y+dy); p.In(b) {
				img.SetRGBA(p.X, p.Y, bg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
