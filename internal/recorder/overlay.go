package recorder

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// BarHeight is the height of the status bar drawn along the bottom edge
const BarHeight = 22

var (
	passColor = color.RGBA{46, 160, 67, 255}
	failColor = color.RGBA{218, 54, 51, 255}
	textColor = color.RGBA{255, 255, 255, 255}
)

// Annotate returns a copy of frame with a status bar: green with a check
// mark for a passed step, red with a cross for a failed one, and label.
func Annotate(frame image.Image, label string, passed bool) *image.RGBA {
	bounds := frame.Bounds()
	result := image.NewRGBA(bounds)
	draw.Draw(result, bounds, frame, bounds.Min, draw.Src)

	barColor := failColor
	if passed {
		barColor = passColor
	}
	bar := image.Rect(bounds.Min.X, bounds.Max.Y-BarHeight, bounds.Max.X, bounds.Max.Y).Intersect(bounds)
	draw.Draw(result, bar, &image.Uniform{barColor}, image.Point{}, draw.Src)

	// icon sits in a square at the left of the bar
	x, y := bar.Min.X+6, bar.Min.Y+5
	if passed {
		drawCheck(result, x, y)
	} else {
		drawCross(result, x, y)
	}

	drawLabel(result, bar, truncateLabel(label, bar.Dx()))
	return result
}

func drawCheck(img *image.RGBA, x, y int) {
	for w := 0; w < 2; w++ {
		drawLine(img, x, y+6+w, x+4, y+10+w, textColor)
		drawLine(img, x+4, y+10+w, x+11, y+1+w, textColor)
	}
}

func drawCross(img *image.RGBA, x, y int) {
	for w := 0; w < 2; w++ {
		drawLine(img, x+w, y, x+10+w, y+10, textColor)
		drawLine(img, x+10+w, y, x+w, y+10, textColor)
	}
}

const (
	labelOffset = 24
	glyphWidth  = 7
)

func drawLabel(img *image.RGBA, bar image.Rectangle, label string) {
	if label == "" {
		return
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(bar.Min.X+labelOffset, bar.Max.Y-6),
	}
	d.DrawString(label)
}

// truncateLabel cuts label to what fits in width pixels of the 7px font
func truncateLabel(label string, width int) string {
	n := (width - labelOffset - 4) / glyphWidth
	if n <= 0 {
		return ""
	}
	r := []rune(label)
	if len(r) <= n {
		return label
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// drawLine draws a line between two points using Bresenham's algorithm
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx := 1
	if x1 > x2 {
		sx = -1
	}
	sy := 1
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy

	for {
		setPixelSafe(img, x1, y1, c)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func setPixelSafe(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{x, y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
