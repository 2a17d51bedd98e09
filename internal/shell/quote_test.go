package shell

import (
	"context"
	"os/exec"
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quoteCases = []string{
	"app-1.2.apk",
	`/data/local/tmp/my "app".apk`,
	"/data/local/tmp/`reboot`.apk",
	"/data/local/tmp/$HOME.apk",
	`/data/local/tmp/back\slash.apk`,
	"with space and 'single' quotes",
}

func TestQuote(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"app.apk"`, Quote("app.apk"))
	assert.Equal(t, `"a\"b"`, Quote(`a"b`))
	assert.Equal(t, "\"a\\`b\"", Quote("a`b"))
	assert.Equal(t, `"a\$b"`, Quote("a$b"))
	assert.Equal(t, `"a\\b"`, Quote(`a\b`))
}

func TestQuote_ParsesBackToLiteral(t *testing.T) {
	t.Parallel()

	for _, tc := range quoteCases {
		words, err := shellquote.Split("cat " + Quote(tc))
		require.NoError(t, err, tc)
		require.Len(t, words, 2, tc)
		assert.Equal(t, tc, words[1])
	}
}

func TestQuote_RealShell(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	for _, tc := range quoteCases {
		out, err := exec.CommandContext(context.Background(), "sh", "-c", "printf %s "+Quote(tc)).Output()
		require.NoError(t, err, tc)
		assert.Equal(t, tc, string(out))
	}
}
