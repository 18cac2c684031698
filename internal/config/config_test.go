package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize_ParsesUnitSuffixes(t *testing.T) {
	cases := map[string]int64{
		"512MB": 512 * (1 << 20),
		"2GiB":  2 * (1 << 30),
		"10kb":  10 * (1 << 10),
		"100":   100,
	}
	for raw, want := range cases {
		got, err := ParseByteSize(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestParseByteSize_RejectsInvalid(t *testing.T) {
	_, err := ParseByteSize("")
	require.Error(t, err)

	_, err = ParseByteSize("-5MB")
	require.Error(t, err)

	_, err = ParseByteSize("not-a-size")
	require.Error(t, err)
}

func TestSplitAndTrimCSV_DropsEmptyEntries(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitAndTrimCSV(" a, b ,,c"))
	assert.Nil(t, SplitAndTrimCSV(""))
}

func TestLoad_ReadsEnvironmentOverFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  url: https://file.example.co\nlogging:\n  level: warn\n"), 0o600))
	os.Setenv("WALLETMEMORY_CONFIG_FILE", path)
	defer os.Unsetenv("WALLETMEMORY_CONFIG_FILE")

	os.Setenv("STORE_URL", "https://example.supabase.co")
	os.Setenv("LOG_LEVEL", "debug")
	defer os.Unsetenv("STORE_URL")
	defer os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://example.supabase.co", cfg.Store.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
