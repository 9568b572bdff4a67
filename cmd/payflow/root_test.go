package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())

	for _, sub := range []string{"up", "down", "status"} {
		c, _, err := root.Find([]string{"migrate", sub})
		require.NoError(t, err)
		assert.Equal(t, sub, c.Name())
	}
}

func TestMigrateCmd_RequiresDSN(t *testing.T) {
	t.Setenv("PG_URL", "")
	t.Chdir(t.TempDir())

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "status"})
	root.SilenceErrors = true

	err := root.Execute()
	assert.ErrorContains(t, err, "database url is empty")
}
