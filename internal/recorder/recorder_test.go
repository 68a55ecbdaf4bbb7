package recorder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/stepflow/internal/browser/browsertest"
	"github.com/v0xg/stepflow/internal/executor"
	"github.com/v0xg/stepflow/internal/instruction"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stepResult(id int, ok bool) executor.StepResult {
	res := executor.StepResult{
		StepID:      id,
		Action:      instruction.ActionClick,
		Description: "Click the login button",
	}
	res.Success = ok
	if !ok {
		res.Error = "could not resolve click target"
	}
	return res
}

func TestRecorder_EncodesOneFramePerStep(t *testing.T) {
	d := browsertest.New()
	r := New(d, Options{Width: 32, FrameDelay: 200 * time.Millisecond}, discard())

	r.OnStep(context.Background(), stepResult(1, true))
	r.OnStep(context.Background(), stepResult(2, false))
	require.Equal(t, 2, r.Len())
	assert.Equal(t, 2, d.Count("screenshot"))

	var buf bytes.Buffer
	require.NoError(t, r.Encode(&buf))

	g, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	require.Len(t, g.Image, 2)
	assert.Equal(t, []int{20, 40}, g.Delay)
	// the fake screenshot is 64x36
	assert.Equal(t, image.Rect(0, 0, 32, 18), g.Image[0].Bounds())
}

func TestRecorder_NeverUpscales(t *testing.T) {
	r := New(browsertest.New(), Options{Width: 4000}, discard())
	r.OnStep(context.Background(), stepResult(1, true))

	var buf bytes.Buffer
	require.NoError(t, r.Encode(&buf))
	g, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, 64, g.Image[0].Bounds().Dx())
}

func TestRecorder_ScreenshotFailureIsSkipped(t *testing.T) {
	d := browsertest.New()
	d.Errors["screenshot"] = errors.New("target closed")
	r := New(d, Options{}, discard())

	r.OnStep(context.Background(), stepResult(1, true))
	assert.Equal(t, 0, r.Len())
	assert.ErrorIs(t, r.Encode(io.Discard), ErrNoFrames)
}

func TestRecorder_Save(t *testing.T) {
	r := New(browsertest.New(), Options{}, discard())
	r.OnStep(context.Background(), stepResult(1, true))

	path := filepath.Join(t.TempDir(), "run.gif")
	size, err := r.Save(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), size)
}

func TestRecorder_AsRunnerObserver(t *testing.T) {
	d := browsertest.New()
	rec := New(d, Options{}, discard())
	exec := executor.New(executor.Env{Driver: d, Logger: discard()})
	runner := executor.NewRunner(exec, discard(), rec)

	runner.Run(context.Background(), []instruction.Instruction{
		{StepID: 1, Action: instruction.ActionPress, Params: instruction.PressParams{Key: "Tab"}, Description: "tab"},
		{StepID: 2, Action: instruction.ActionPress, Params: instruction.PressParams{Key: "Enter"}, Description: "enter"},
	}, executor.DefaultRunOptions())

	assert.Equal(t, 2, rec.Len())
}

func TestAnnotate(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 200, 100))

	passed := Annotate(frame, "ok", true)
	failed := Annotate(frame, "no", false)

	// far right of the bar is clear of icon and label
	assert.Equal(t, passColor, passed.RGBAAt(195, 95))
	assert.Equal(t, failColor, failed.RGBAAt(195, 95))
	// above the bar the frame is untouched
	assert.Equal(t, color.RGBA{}, passed.RGBAAt(100, 100-BarHeight-1))
	// the source frame is not modified
	assert.Equal(t, color.RGBA{}, frame.RGBAAt(195, 95))
}

func TestTruncateLabel(t *testing.T) {
	assert.Equal(t, "short", truncateLabel("short", 200))
	// (100-24-4)/7 = 10 glyphs
	assert.Equal(t, "abcdefg...", truncateLabel("abcdefghijklmnop", 100))
	assert.Equal(t, "", truncateLabel("anything", 20))
}
