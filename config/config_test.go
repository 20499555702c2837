package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Validators, 6)
	require.Equal(t, 4, cfg.Quorum)

	// The file and the keystore were materialized.
	_, err = os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(cfg.KeystorePath)
	require.NoError(t, err)

	// Loading the file back yields the same configuration.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Quorum, reloaded.Quorum)
	require.Equal(t, cfg.BlockInterval.Duration, reloaded.BlockInterval.Duration)
	require.Equal(t, cfg.Validators, reloaded.Validators)
}

func TestLoadParsesDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
DataDir = "./data"
BlockInterval = "2s"
MaxBlockTxs = 10
BlockGasLimit = 1000000
MaxPoolSize = 100
Quorum = 1
RoundTimeout = "500ms"
DeciderTimeout = "250ms"

[[Validators]]
ID = "val-1"
DisplayName = "Solo"
Policy = "approve"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.BlockInterval.Duration)
	require.Equal(t, 500*time.Millisecond, cfg.RoundTimeout.Duration)
}

func TestValidateRejectsBadCommittee(t *testing.T) {
	base := func() *Config {
		return &Config{
			DataDir:        "./data",
			BlockInterval:  Duration{time.Second},
			MaxBlockTxs:    10,
			MaxPoolSize:    10,
			Quorum:         1,
			RoundTimeout:   Duration{time.Second},
			DeciderTimeout: Duration{time.Second},
			Validators:     []Validator{{ID: "val-1", Policy: "approve"}},
		}
	}

	quorumTooBig := base()
	quorumTooBig.Quorum = 2
	require.Error(t, quorumTooBig.Validate())

	duplicate := base()
	duplicate.Validators = append(duplicate.Validators, Validator{ID: "val-1", Policy: "approve"})
	require.Error(t, duplicate.Validate())

	badPolicy := base()
	badPolicy.Validators[0].Policy = "maybe"
	require.Error(t, badPolicy.Validate())

	empty := base()
	empty.Validators = nil
	require.Error(t, empty.Validate())

	require.NoError(t, base().Validate())
}
