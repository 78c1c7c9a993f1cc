package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	for _, in := range []string{
		"0722000111",
		"254722000111",
		"+254722000111",
		"722000111",
		"+254 722 000 111",
		"0722-000-111",
	} {
		got, err := Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, "254722000111", got, in)
	}

	got, err := Normalize("0110123456")
	require.NoError(t, err)
	assert.Equal(t, "254110123456", got)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "12345", "0822000111", "255722000111", "07220001112"} {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, ErrInvalid, in)
	}
}

func TestVariantsCoverEveryStoredForm(t *testing.T) {
	forms := []string{"0722000111", "254722000111", "+254722000111"}
	for _, reported := range forms {
		v := Variants(reported)
		assert.Equal(t, "254722000111", v[0])
		for _, stored := range forms {
			assert.Contains(t, v, stored, "reported=%s stored=%s", reported, stored)
		}
	}
}

func TestVariantsUnparseable(t *testing.T) {
	assert.Equal(t, []string{"abc"}, Variants(" abc "))
	assert.Nil(t, Variants("  "))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("0722000111", "+254722000111"))
	assert.False(t, Equal("0722000111", "0722000112"))
	assert.False(t, Equal("junk", "junk"))
}
