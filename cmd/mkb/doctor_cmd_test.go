package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunDoctorJSONStructureOnFreshVault(t *testing.T) {
	setupCommandTestVault(t)

	out := captureCommandStdout(t, func() {
		require.NoError(t, runDoctor(true), "a freshly initialised vault should pass every check")
	})

	var report doctorReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), "doctor JSON output should parse: %q", out)
	require.Greater(t, report.Summary.Total, 0)
	require.Equal(t, report.Summary.Total, report.Summary.Passed+report.Summary.Failed)
	require.Zero(t, report.Summary.Failed)
}

func TestRunDoctorTextOutputReturnsHeader(t *testing.T) {
	setupCommandTestVault(t)

	out := captureCommandStdout(t, func() {
		require.NoError(t, runDoctor(false))
	})
	require.True(t, strings.Contains(out, "mkb Health Check"), "expected header in text output, got: %q", out)
}

func TestRunDoctorFailsWithoutAVault(t *testing.T) {
	root := t.TempDir()
	oldOverride := vaultOverride
	vaultOverride = root
	t.Cleanup(func() { vaultOverride = oldOverride })

	require.Error(t, runDoctor(true), "expected doctor to report failure against an uninitialised directory")
}
