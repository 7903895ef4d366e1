package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSSD(t *testing.T) {
	rows := []float64{
		0, 1, 0.9, 0.1, 0.2, 0.3, 0.4,
		0, 2, 0.8, 0.5, 0.5, 0.6, 0.6,
		0, 1, 0.3, -0.1, 0.0, 1.2, 0.9,
		-1, 0, 0, 0, 0, 0, 0,
		0, 1, 0.99, 0, 0, 1, 1,
	}

	t.Run("all labels", func(t *testing.T) {
		dets, err := DecodeSSD(rows, -1)
		require.NoError(t, err)
		require.Len(t, dets, 3)
		assert.InDelta(t, 0.9, dets[0].Score, 1e-9)
		assert.InDelta(t, 0.1, dets[0].Box.X1, 1e-9)
		assert.InDelta(t, 0.4, dets[0].Box.Y2, 1e-9)
	})

	t.Run("label filter", func(t *testing.T) {
		dets, err := DecodeSSD(rows, 1)
		require.NoError(t, err)
		require.Len(t, dets, 2)
		assert.InDelta(t, 0.3, dets[1].Score, 1e-9)
		assert.Equal(t, 0.0, dets[1].Box.X1)
		assert.Equal(t, 1.0, dets[1].Box.X2)
	})

	t.Run("empty", func(t *testing.T) {
		dets, err := DecodeSSD(nil, -1)
		require.NoError(t, err)
		assert.Empty(t, dets)
	})

	t.Run("bad stride", func(t *testing.T) {
		_, err := DecodeSSD([]float64{0, 1, 0.5}, -1)
		assert.Error(t, err)
	})
}
