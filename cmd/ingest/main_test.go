package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	t.Run("fields and paths", func(t *testing.T) {
		opts, err := parseArgs([]string{
			"-description", "spur gear", "-brand", "Misumi",
			"-materials", "steel, brass,", "-process", "hobbing",
			"-dir", "gears", "a.png", "photos",
		})
		require.NoError(t, err)

		assert.Equal(t, "gears", opts.Directory)
		assert.Equal(t, "spur gear", opts.Fields.Description)
		assert.Equal(t, "Misumi", opts.Fields.Brand)
		assert.Equal(t, []string{"steel", "brass"}, opts.Fields.Materials)
		assert.Equal(t, []string{"hobbing"}, opts.Fields.Process)
		assert.Equal(t, []string{"a.png", "photos"}, opts.Paths)
	})

	t.Run("description is required", func(t *testing.T) {
		_, err := parseArgs([]string{"a.png"})
		require.ErrorIs(t, err, errDescriptionRequired)
	})

	t.Run("paths are required", func(t *testing.T) {
		_, err := parseArgs([]string{"-description", "gear"})
		require.Error(t, err)
	})
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,,b "))
}
