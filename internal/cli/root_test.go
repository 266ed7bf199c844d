package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}

	assert.True(t, names["serve"])
	assert.True(t, names["sessions"])
	assert.True(t, names["plans"])
}

func TestVersionFlag(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), version)
}

func TestServeFlags(t *testing.T) {
	flags := serveCmd.Flags()

	for _, name := range []string{"workspace", "logs-path", "needs-permission", "docker-container-id", "host", "port"} {
		assert.NotNil(t, flags.Lookup(name), "missing flag %s", name)
	}

	// -p is the shorthand for needs-permission.
	assert.Equal(t, "p", flags.Lookup("needs-permission").Shorthand)
}
