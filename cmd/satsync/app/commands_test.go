package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewRootCmd registers flags on package-level commands, so it must be
// called once per process.
func TestRootCmd(t *testing.T) {
	root := NewRootCmd()

	t.Run("subcommands", func(t *testing.T) {
		var names []string
		for _, cmd := range root.Commands() {
			names = append(names, cmd.Name())
		}
		assert.Contains(t, names, "serve")
		assert.Contains(t, names, "update")
		assert.Contains(t, names, "init-schema")
		assert.Contains(t, names, "bulk-load")
		assert.Contains(t, names, "version")
	})

	t.Run("update requires config", func(t *testing.T) {
		root.SetArgs([]string{"update"})
		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config")
	})

	t.Run("version", func(t *testing.T) {
		root.SetArgs([]string{"version", "--format", "json"})
		assert.NoError(t, root.Execute())
	})
}
