package media

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestSniff(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
		err  error
	}{
		{name: "png", data: pngHeader, want: "image/png"},
		{name: "jpeg", data: []byte("\xff\xd8\xff\xe0\x00\x10JFIF"), want: "image/jpeg"},
		{name: "gif", data: []byte("GIF89a......"), want: "image/gif"},
		{name: "empty", data: nil, err: ErrEmpty},
		{name: "html", data: []byte("<html><body>hi</body></html>"), err: ErrUnsupportedType},
		{name: "too large", data: append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, MaxImageBytes)...), err: ErrTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Sniff(tc.data)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey(KindAvatar, "usr_1", "image/png")
	assert.True(t, strings.HasPrefix(key, "avatars/usr_1/"), key)
	assert.True(t, strings.HasSuffix(key, ".png"), key)
	assert.NotEqual(t, key, ObjectKey(KindAvatar, "usr_1", "image/png"))
}
