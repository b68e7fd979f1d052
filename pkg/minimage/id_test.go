package minimage_test

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/minimage/pkg/minimage"
)

func TestNormalizeExtension(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ""},
		{in: "png", want: "png"},
		{in: ".JPG", want: "jpg"},
		{in: "WebP", want: "webp"},
		{in: "mp4", want: "mp4"},
		{in: "exe", want: "exe"},
		{in: "..png", wantErr: true},
		{in: "p/ng", wantErr: true},
		{in: "png\x00", wantErr: true},
		{in: "tar.gz", wantErr: true},
		{in: strings.Repeat("a", 17), wantErr: true},
	}
	for _, tc := range cases {
		got, err := minimage.NormalizeExtension(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, minimage.ErrInvalidArgument, "ext %q", tc.in)
			continue
		}
		require.NoError(t, err, "ext %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestValidateID(t *testing.T) {
	valid := []string{"a.png", "0b7e9c1a-4b8e-4a5e-9a53-7d1f1c2b3a4d.gif", "20240101_120000_x.jpeg", "noext"}
	for _, id := range valid {
		assert.NoError(t, minimage.ValidateID(id), id)
	}

	invalid := []string{"", ".", "..", "../x.png", "a/b", `a\b`, "a\x00b", ".hidden", strings.Repeat("x", 256)}
	for _, id := range invalid {
		assert.ErrorIs(t, minimage.ValidateID(id), minimage.ErrInvalidArgument, "%q", id)
	}
}

func TestExtensionOf(t *testing.T) {
	assert.Equal(t, "png", minimage.ExtensionOf("abc.png"))
	assert.Equal(t, "jpg", minimage.ExtensionOf("abc.JPG"))
	assert.Equal(t, "", minimage.ExtensionOf("abc"))
	assert.Equal(t, "", minimage.ExtensionOf("abc."))
	assert.Equal(t, "gz", minimage.ExtensionOf("abc.tar.gz"))
}

func TestUUIDGenerator(t *testing.T) {
	gen := minimage.NewUUIDGenerator()
	pattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.png$`)

	id := gen.NewID("png")
	assert.Regexp(t, pattern, id)
	assert.NoError(t, minimage.ValidateID(id))
	assert.NotContains(t, gen.NewID(""), ".")
}

func TestTimestampGenerator(t *testing.T) {
	at := time.Date(2024, 3, 9, 7, 5, 1, 0, time.FixedZone("X", 3600))
	gen := minimage.NewTimestampGenerator(func() time.Time { return at })

	id := gen.NewID("webp")
	assert.True(t, strings.HasPrefix(id, "20240309_060501_"), id)
	assert.True(t, strings.HasSuffix(id, ".webp"), id)
	assert.NoError(t, minimage.ValidateID(id))
	assert.NotEqual(t, id, gen.NewID("webp"))
}
