package invoke

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder(t *testing.T) {
	tests := []struct {
		name      string
		label     string
		in        []byte
		want      string
		wantLossy bool
	}{
		{name: "default utf-8", label: "", in: []byte("héllo"), want: "héllo"},
		{name: "invalid utf-8", label: "utf-8", in: []byte("ab\xffcd"), want: "ab�cd", wantLossy: true},
		{name: "one marker per invalid byte", label: "utf-8", in: []byte("a\xff\xfeb\x80"), want: "a��b�", wantLossy: true},
		{name: "literal replacement rune", label: "utf-8", in: []byte("ok �"), want: "ok �"},
		{name: "truncated sequence", label: "utf8", in: []byte("x\xe2\x82"), want: "x�", wantLossy: true},
		{name: "utf-16le", label: "utf-16le", in: []byte{'h', 0, 'i', 0}, want: "hi"},
		{name: "windows-1252", label: "windows-1252", in: []byte{'c', 'a', 'f', 0xe9}, want: "café"},
		{name: "empty", label: "utf-8", in: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDecoder(tt.label)
			require.NoError(t, err)

			got, lossy := d.Decode(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantLossy, lossy)
		})
	}
}

func TestDecoderName(t *testing.T) {
	d, err := NewDecoder("UTF8")
	require.NoError(t, err)
	assert.Equal(t, "utf-8", d.Name())

	d, err = NewDecoder("latin1")
	require.NoError(t, err)
	assert.Equal(t, "windows-1252", d.Name())
}
