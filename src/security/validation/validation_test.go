package validation

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFieldName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: " Entry Price ", want: "entry_price"},
		{in: "entry-price", want: "entry_price"},
		{in: "P.L", want: "p_l"},
		{in: "\ufeffSymbol", want: "symbol"},
		{in: "qty", want: "qty"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeFieldName(tt.in), tt.in)
	}
}

func TestStripUnprintable(t *testing.T) {
	assert.Equal(t, "AAPL\t1", StripUnprintable("AA\x00PL\t1\u200b"))
}

func TestValidateClientContentType(t *testing.T) {
	assert.NoError(t, ValidateClientContentType("text/csv"))
	assert.NoError(t, ValidateClientContentType("text/csv; charset=utf-8"))
	assert.Error(t, ValidateClientContentType("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
	assert.Error(t, ValidateClientContentType("image/png"))
}

func TestValidateFileContentByMagicBytes(t *testing.T) {
	csv := bytes.NewReader([]byte("symbol,qty\nAAPL,100\n"))
	detected, err := ValidateFileContentByMagicBytes(csv)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", detected)

	rest, err := io.ReadAll(csv)
	require.NoError(t, err)
	assert.Equal(t, "symbol,qty\nAAPL,100\n", string(rest), "reader must be rewound")

	png := bytes.NewReader([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	_, err = ValidateFileContentByMagicBytes(png)
	assert.Error(t, err)

	_, err = ValidateFileContentByMagicBytes(nil)
	assert.Error(t, err)
}
