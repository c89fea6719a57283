package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsds/hccp/srcs/go/hierarchy"
)

func TestParseStrategyRoundTrips(t *testing.T) {
	s, err := ParseStrategy("tree")
	require.NoError(t, err)
	assert.Equal(t, Tree, s)

	s, err = ParseStrategy("RING")
	require.NoError(t, err)
	assert.Equal(t, Ring, s)

	_, err = ParseStrategy("bogus")
	assert.Error(t, err)
}

func TestParseReduceOrderRoundTrips(t *testing.T) {
	o, err := ParseReduceOrder("stripe_first")
	require.NoError(t, err)
	assert.Equal(t, StripeFirst, o)

	_, err = ParseReduceOrder("bogus")
	assert.Error(t, err)
}

func TestDefaultMatchesDesignNotesDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1, cfg.NumStripe)
	assert.Equal(t, 1, cfg.NumBatch)
	assert.Equal(t, "TREE", cfg.Strategy)
	assert.Equal(t, "STRIPE_FIRST", cfg.ReduceOrder)
	assert.Equal(t, 0, cfg.PrintRank)
}

func TestLoadOverridesOnlyFieldsThePartialFileMentions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.toml")
	contents := "numbatch = 4\nstrategy = \"RING\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.NumBatch)
	assert.Equal(t, "RING", cfg.Strategy)
	// Untouched fields keep Default's values.
	assert.Equal(t, 1, cfg.NumStripe)
	assert.Equal(t, "STRIPE_FIRST", cfg.ReduceOrder)
}

func TestBindFlagsGroupSizeOverridesOnlyWhenPassed(t *testing.T) {
	cfg := Default()
	cfg.GroupSize = []int{8, 4, 1}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse(nil))
	cfg.ApplyFlags()
	assert.Equal(t, []int{8, 4, 1}, cfg.GroupSize, "no -groupsize flag given, existing value survives")

	cfg2 := Default()
	fs2 := pflag.NewFlagSet("test2", pflag.ContinueOnError)
	cfg2.BindFlags(fs2)
	require.NoError(t, fs2.Parse([]string{"--groupsize=16,4,1"}))
	cfg2.ApplyFlags()
	assert.Equal(t, []int{16, 4, 1}, cfg2.GroupSize)
}

func TestConfigHierarchyBuildsFromGroupSizeAndLibrary(t *testing.T) {
	cfg := Default()
	cfg.GroupSize = []int{8, 4, 1}
	cfg.Library = []int{int(hierarchy.InterNodeMessage), int(hierarchy.IntraNodeIPC)}

	h, err := cfg.Hierarchy()
	require.NoError(t, err)
	assert.Equal(t, 3, h.NumLevels())
	assert.Equal(t, hierarchy.InterNodeMessage, h.Library(1))
	assert.Equal(t, hierarchy.IntraNodeIPC, h.Library(2))
}
