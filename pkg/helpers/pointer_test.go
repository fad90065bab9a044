package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPtr(t *testing.T) {
	for _, val := range []float64{3.14, 0, -42.5} {
		ptr := Ptr(val)
		require.NotNil(t, ptr)
		assert.Equal(t, val, *ptr)
	}

	n := 1000
	ptr := Ptr(n)
	n++
	assert.Equal(t, 1000, *ptr)
}
