package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndexport/internal/testutil"
)

// execute runs the root command with args and a fake retry sleeper.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	opts := &RootOptions{Sleeper: testutil.NewFakeSleeper()}
	cmd := newRootCommand(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ndexport", cmd.Use)
	assert.Contains(t, cmd.Long, "newline-delimited JSON")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := map[string]string{
		"list_indexes":                  "list-indexes",
		"store_index":                   "store-index",
		"store_time_series_index_range": "store-time-series-index-range",
		"list_time_series_files":        "list-time-series-files",
		"store_database":                "store-database",
		"history":                       "",
	}

	for name, alias := range commands {
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "Command %s should exist", name)
			assert.Equal(t, name, subCmd.Name())

			if alias != "" {
				aliased, _, err := cmd.Find([]string{alias})
				require.NoError(t, err)
				assert.Equal(t, name, aliased.Name())
			}
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

	retriesFlag := cmd.PersistentFlags().Lookup("retries")
	require.NotNil(t, retriesFlag)
	assert.Equal(t, "10", retriesFlag.DefValue)

	waitFlag := cmd.PersistentFlags().Lookup("retry-wait")
	require.NotNil(t, waitFlag)
	assert.Equal(t, "5s", waitFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestExportCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"store_index", "store_time_series_index_range", "store_database"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			workers := sub.Flags().Lookup("workers")
			require.NotNil(t, workers)
			assert.Equal(t, "1", workers.DefValue)
			require.NotNil(t, sub.Flags().Lookup("journal"))
			chunk := sub.Flags().Lookup("chunk-size")
			require.NotNil(t, chunk)
			assert.Equal(t, "5000", chunk.DefValue)
		})
	}

	storeIndex, _, err := cmd.Find([]string{"store_index"})
	require.NoError(t, err)
	query := storeIndex.Flags().Lookup("query")
	require.NotNil(t, query)
	assert.Equal(t, "q", query.Shorthand)
	require.NotNil(t, storeIndex.Flags().Lookup("scan"))
	assert.Equal(t, "5m0s", storeIndex.Flags().Lookup("scroll-ttl").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "--format", "xml", "list_time_series_files", t.TempDir(), "x-", "2024.01.01", "2024.01.02")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestWrongArgCountIsCommandError(t *testing.T) {
	_, _, err := execute(t, "store_index", "http://localhost:9200")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "usage: ndexport store_index")
}

func TestUnknownFlagIsCommandError(t *testing.T) {
	_, _, err := execute(t, "history", "--bogus")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidConfigIsCommandError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndexport.yaml")
	require.NoError(t, os.WriteFile(path, []byte("export:\n  chunk_size: -1\n"), 0o644))

	_, _, err := execute(t, "--config", path, "list_time_series_files", t.TempDir(), "x-", "2024.01.01", "2024.01.02")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "export.chunk_size")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	wrapped := WrapExitError(ExitFailure, "export failed", errors.New("disk full"))
	assert.Equal(t, "export failed: disk full", wrapped.Error())
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
}
