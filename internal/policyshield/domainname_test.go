package policyshield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Twitter.com", want: "twitter.com"},
		{in: "www.twitter.com", want: "twitter.com"},
		{in: "https://www.reddit.com/r/golang", want: "reddit.com"},
		{in: "youtube.com.", want: "youtube.com"},
		{in: "youtube.com:443", want: "youtube.com"},
		{in: "not a domain", wantErr: true},
		{in: "nodothere", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, c := range cases {
		got, err := Canonicalize(c.in)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		require := assert.New(t)
		require.NoError(err, c.in)
		require.Equal(c.want, got, c.in)
	}
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("youtube.com", "youtube.com"))
	assert.True(t, Matches("youtube.com", "m.youtube.com"))
	assert.True(t, Matches("youtube.com", "a.b.youtube.com"))
	assert.False(t, Matches("youtube.com", "notyoutube.com"))
	assert.False(t, Matches("youtube.com", "youtube.com.evil.com"))
}

func TestHostnameVariants(t *testing.T) {
	v := HostnameVariants("youtube.com")
	assert.Contains(t, v, "youtube.com")
	assert.Contains(t, v, "www.youtube.com")
	assert.Contains(t, v, "m.youtube.com")
	assert.Contains(t, v, "music.youtube.com")
	assert.Contains(t, v, "youtu.be")
	assert.Contains(t, v, "youtube-nocookie.com")

	v2 := HostnameVariants("example.com")
	assert.ElementsMatch(t, []string{"example.com", "www.example.com"}, v2)
}
