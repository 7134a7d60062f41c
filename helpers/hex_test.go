package helpers

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexSpaced(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", HexSpaced(nil))
	assert.Equal(t, "01 67 00 e1", HexSpaced([]byte{0x01, 0x67, 0x00, 0xe1}))
}

func TestParseHexLoose(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input  string
		expect []byte
	}{
		{"0167", []byte{0x01, 0x67}},
		{"01 67", []byte{0x01, 0x67}},
		{"01:67", []byte{0x01, 0x67}},
		{"167", []byte{0x01, 0x67}},
		{"", []byte{}},
	}
	for _, c := range cases {
		b, err := ParseHexLoose(c.input)
		require.NoError(t, err, c.input)
		assert.Equal(t, c.expect, b, c.input)
	}
	_, err := ParseHexLoose("zz")
	assert.Error(t, err)
}

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))
	one := errors.New("one")
	assert.Equal(t, one, FoldErrors([]error{nil, one}))
	assert.EqualError(t, FoldErrors([]error{one, errors.New("two")}), "one\ntwo")
}
