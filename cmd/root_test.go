package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofo-tools/treecrown/internal/buildinfo"
	"github.com/ofo-tools/treecrown/internal/conf"
	"github.com/ofo-tools/treecrown/internal/errors"
)

func TestRootCommandRejectsWrongArgCount(t *testing.T) {
	rootCmd := RootCommand(&conf.Settings{}, &buildinfo.Context{Version: "test"})
	rootCmd.SetArgs([]string{"only-one.tif"})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryArgument))
}

func TestRootCommandTree(t *testing.T) {
	rootCmd := RootCommand(&conf.Settings{}, &buildinfo.Context{Version: "1.2.3"})
	assert.Equal(t, "1.2.3", rootCmd.Version)

	names := make([]string, 0)
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "batch")
	assert.Contains(t, names, "config")

	for _, flag := range []string{"config", "debug", "model"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}
}
