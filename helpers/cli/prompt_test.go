package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecReader(t *testing.T) {
	t.Parallel()

	lines := []string{}
	input := "stat\n\n  rx 0167  \nuplink\n"
	require.NoError(t, ExecReader(context.Background(), strings.NewReader(input), func(line string) {
		lines = append(lines, line)
	}))
	assert.Equal(t, []string{"stat", "rx 0167", "uplink"}, lines)
}

func TestExecReaderCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := ExecReader(ctx, strings.NewReader("a\nb\n"), func(string) { calls++ })
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 0, calls)
}
