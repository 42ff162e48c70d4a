package pagination

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCursor_RoundTrip(t *testing.T) {
	c := Cursor{
		V:   1,
		Sv:  "0b7c3c2e-6f6f-4a5e-9d7e-9c7d8c9a1b2c",
		Fh:  Hash("tipoBase=stock"),
		Off: 200,
		Ps:  100,
	}
	tok, err := EncodeCursor(c)
	require.NoError(t, err)
	require.False(t, strings.ContainsAny(tok, "+/="), "token must be url-safe: %q", tok)

	out, err := DecodeCursor(tok)
	require.NoError(t, err)
	require.Equal(t, c.Sv, out.Sv)
	require.Equal(t, c.Fh, out.Fh)
	require.Equal(t, c.Off, out.Off)
	require.Equal(t, c.Ps, out.Ps)
	require.NotZero(t, out.Iat)

	require.NoError(t, out.Bind(c.Sv, c.Fh))
	require.ErrorIs(t, out.Bind("other", c.Fh), ErrStale)
	require.ErrorIs(t, out.Bind(c.Sv, Hash("tipoBase=web")), ErrStale)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	cases := []string{
		"",    // empty
		"!!!", // not base64
		base64.RawURLEncoding.EncodeToString([]byte("not-json")),
		mustB64(`{"v":1}`),
		mustB64(`{"v":1,"sv":"","off":0,"ps":10}`),
		mustB64(`{"v":1,"sv":"x","off":-1,"ps":10}`),
		mustB64(`{"v":1,"sv":"x","off":0,"ps":0}`),
	}
	for i, tok := range cases {
		_, err := DecodeCursor(tok)
		require.Error(t, err, "case %d: token %q", i, tok)
	}
}

func TestWindow(t *testing.T) {
	start, end, more := Window(10, 0, 4)
	require.Equal(t, []int{0, 4}, []int{start, end})
	require.True(t, more)

	start, end, more = Window(10, 8, 4)
	require.Equal(t, []int{8, 10}, []int{start, end})
	require.False(t, more)

	start, end, more = Window(3, 50, 4)
	require.Equal(t, []int{3, 3}, []int{start, end})
	require.False(t, more)

	require.Equal(t, 12, NextOffset(8, 4))
	require.Equal(t, 0, NextOffset(-2, 0))
}

func FuzzDecodeCursor(f *testing.F) {
	seeds := []string{
		"", "abc", mustB64(`{"v":1}`), mustB64(`{"sv":"x"}`),
		mustB64(`{"v":1,"sv":"snap","off":0,"ps":1}`),
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, token string) {
		_, _ = DecodeCursor(token)
	})
}

func mustB64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
