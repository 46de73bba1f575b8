package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "verdi", cmd.Use)
	assert.Contains(t, cmd.Long, "provenance graph")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"archive", "create"},
		{"archive", "import"},
		{"archive", "inspect"},
		{"node", "delete"},
		{"storage", "info"},
		{"storage", "maintain"},
	}

	for _, path := range commands {
		t.Run(path[0]+"_"+path[1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestArchiveCreateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	createCmd, _, err := cmd.Find([]string{"archive", "create"})
	require.NoError(t, err)

	force := createCmd.Flags().Lookup("force")
	require.NotNil(t, force)
	assert.Equal(t, "f", force.Shorthand)

	comments := createCmd.Flags().Lookup("include-comments")
	require.NotNil(t, comments)
	assert.Equal(t, "true", comments.DefValue)

	authinfos := createCmd.Flags().Lookup("include-authinfos")
	require.NotNil(t, authinfos)
	assert.Equal(t, "false", authinfos.DefValue)

	strip := createCmd.Flags().Lookup("strip-checkpoints")
	require.NotNil(t, strip)
	assert.Equal(t, "true", strip.DefValue)

	require.NotNil(t, createCmd.Flags().Lookup("rule"))
}

func TestArchiveImportCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	importCmd, _, err := cmd.Find([]string{"archive", "import"})
	require.NoError(t, err)

	extras := importCmd.Flags().Lookup("extras-mode-existing")
	require.NotNil(t, extras)
	assert.Equal(t, "kcl", extras.DefValue)

	comments := importCmd.Flags().Lookup("comment-mode")
	require.NotNil(t, comments)
	assert.Equal(t, "leave", comments.DefValue)

	newExtras := importCmd.Flags().Lookup("import-new-extras")
	require.NotNil(t, newExtras)
	assert.Equal(t, "true", newExtras.DefValue)
}

func TestNodeDeleteCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	deleteCmd, _, err := cmd.Find([]string{"node", "delete"})
	require.NoError(t, err)

	dryRun := deleteCmd.Flags().Lookup("dry-run")
	require.NotNil(t, dryRun)
	assert.Equal(t, "n", dryRun.Shorthand)
	assert.Equal(t, "false", dryRun.DefValue)
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "archive", "inspect", "missing.aiida"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
