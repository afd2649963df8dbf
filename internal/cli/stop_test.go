package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"stop", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "Stop the FreeAgent daemon service")
		assert.Contains(t, helpText, "timeout")
	})

	t.Run("not running", func(t *testing.T) {
		isolate(t)

		out, err := execute(t, "stop")
		require.NoError(t, err)
		assert.Contains(t, out, "Daemon is not running")
	})
}
