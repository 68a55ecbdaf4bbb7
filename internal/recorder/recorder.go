// Package recorder captures a screenshot after every executed step and
// assembles them into an animated GIF replay of the run.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/nfnt/resize"

	"github.com/v0xg/stepflow/internal/browser"
	"github.com/v0xg/stepflow/internal/executor"
)

// Options configures the replay
type Options struct {
	// Width of the GIF; frames are never upscaled. Defaults to 800.
	Width uint
	// FrameDelay is how long each step is shown. The last frame is held
	// twice as long.
	FrameDelay time.Duration
	// ScreenshotTimeout bounds a single capture
	ScreenshotTimeout time.Duration
}

// Recorder is an executor.Observer. It is safe for concurrent use.
type Recorder struct {
	driver browser.Driver
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	frames []image.Image
}

var _ executor.Observer = (*Recorder)(nil)

// ErrNoFrames is returned when saving a recording with nothing captured
var ErrNoFrames = errors.New("recorder: no frames captured")

func New(d browser.Driver, opts Options, logger *slog.Logger) *Recorder {
	if opts.Width == 0 {
		opts.Width = 800
	}
	if opts.FrameDelay <= 0 {
		opts.FrameDelay = 1500 * time.Millisecond
	}
	if opts.ScreenshotTimeout <= 0 {
		opts.ScreenshotTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{driver: d, opts: opts, logger: logger}
}

// OnStep captures the page as it is after step. Capture failures are
// logged and the step is left out of the replay.
func (r *Recorder) OnStep(ctx context.Context, step executor.StepResult) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.ScreenshotTimeout)
	defer cancel()

	data, err := r.driver.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("screenshot failed", "step_id", step.StepID, "error", err)
		return
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		r.logger.Warn("screenshot decode failed", "step_id", step.StepID, "error", err)
		return
	}

	label := fmt.Sprintf("#%d %s: %s", step.StepID, step.Action, step.Description)
	if !step.Success && step.Error != "" {
		label += " (" + step.Error + ")"
	}

	r.mu.Lock()
	r.frames = append(r.frames, Annotate(img, label, step.Success))
	r.mu.Unlock()
}

// Len returns the number of captured frames
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Save writes the GIF to path and returns its size in bytes
func (r *Recorder) Save(path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := r.Encode(f); err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Encode writes the captured frames as an endlessly looping GIF
func (r *Recorder) Encode(w io.Writer) error {
	r.mu.Lock()
	frames := make([]image.Image, len(r.frames))
	copy(frames, r.frames)
	r.mu.Unlock()

	if len(frames) == 0 {
		return ErrNoFrames
	}

	// Delays are in 100ths of a second
	delay := int(r.opts.FrameDelay / (10 * time.Millisecond))
	if delay < 1 {
		delay = 1
	}

	bounds := frames[0].Bounds()
	width := r.opts.Width
	if uint(bounds.Dx()) < width {
		width = uint(bounds.Dx())
	}
	height := uint(float64(width) * float64(bounds.Dy()) / float64(bounds.Dx()))
	if height == 0 {
		height = 1
	}

	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		LoopCount: 0,
	}
	palette := generatePalette(frames)

	for i, frame := range frames {
		resized := resize.Resize(width, height, frame, resize.Lanczos3)
		paletted := image.NewPaletted(resized.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, resized.Bounds(), resized, resized.Bounds().Min)

		g.Image[i] = paletted
		g.Delay[i] = delay
	}
	g.Delay[len(frames)-1] = delay * 2

	return gif.EncodeAll(w, g)
}

// generatePalette builds a 256 color palette from the status colors and
// the most frequent colors sampled across all frames.
func generatePalette(frames []image.Image) color.Palette {
	counts := make(map[color.RGBA]int)

	// Sample every 4th pixel for performance
	const step = 4
	for _, img := range frames {
		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y += step {
			for x := b.Min.X; x < b.Max.X; x += step {
				r, g, bl, _ := img.At(x, y).RGBA()
				// 5 bits per channel keeps near-identical shades together
				c := color.RGBA{uint8(r>>8) &^ 7, uint8(g>>8) &^ 7, uint8(bl>>8) &^ 7, 255}
				counts[c]++
			}
		}
	}

	type colorCount struct {
		c     color.RGBA
		count int
	}
	colors := make([]colorCount, 0, len(counts))
	for c, n := range counts {
		colors = append(colors, colorCount{c, n})
	}
	sort.Slice(colors, func(i, j int) bool {
		if colors[i].count != colors[j].count {
			return colors[i].count > colors[j].count
		}
		ci, cj := colors[i].c, colors[j].c
		return uint32(ci.R)<<16|uint32(ci.G)<<8|uint32(ci.B) < uint32(cj.R)<<16|uint32(cj.G)<<8|uint32(cj.B)
	})

	palette := make(color.Palette, 0, 256)
	palette = append(palette, passColor, failColor, textColor, color.RGBA{0, 0, 0, 255})
	for i := 0; i < len(colors) && len(palette) < 256; i++ {
		palette = append(palette, colors[i].c)
	}

	// pad with grayscale
	for len(palette) < 256 {
		gray := uint8(len(palette))
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}
