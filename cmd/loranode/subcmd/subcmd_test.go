package subcmd

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/loranode/internal/state"
)

func TestParse(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *state.Config) error { return nil }
	modules := []Mod{{Name: "run", Main: noop}, {Name: "console", Main: noop}}

	m, err := Parse("console", modules)
	require.NoError(t, err)
	assert.Equal(t, "console", m.Name)

	_, err = Parse("", modules)
	assert.EqualError(t, err, "empty command")

	_, err = Parse("flash", modules)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.EqualError(t, err, "command=flash not found")

	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{Main: noop}}) })
}
