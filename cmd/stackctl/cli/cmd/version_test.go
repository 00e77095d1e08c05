package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommandIsRegistered(t *testing.T) {
	names := make([]string, 0)
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "version")
	assert.Contains(t, names, "deploy")
	assert.Contains(t, names, "status")
	assert.Contains(t, names, "destroy")
}

func TestVersionCommandOutput(t *testing.T) {
	buf := new(bytes.Buffer)
	versionCmd.SetOut(buf)
	versionCmd.Run(versionCmd, nil)

	require.NotEmpty(t, buf.String())
	assert.Contains(t, buf.String(), "stackctl")
	assert.Contains(t, buf.String(), version)
}
