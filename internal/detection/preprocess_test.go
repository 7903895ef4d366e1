package detection

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestPrepareResizesToInputShape(t *testing.T) {
	data, err := Prepare(testImage(64, 48), InputShape{Width: 32, Height: 20}, 90)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 20, cfg.Height)
}

func TestPrepareKeepsSizeWithoutShape(t *testing.T) {
	data, err := Prepare(testImage(40, 30), InputShape{}, 0)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestPrepareNilFrame(t *testing.T) {
	_, err := Prepare(nil, InputShape{}, 80)
	assert.Error(t, err)
}
