package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudbuilder/internal/config"
)

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.SyncRulesFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile_OrderAndKinds(t *testing.T) {
	path := writeRules(t, `
# build outputs stay local
- *.o
+ src/**

; editor litter
.DS_Store
- build/
`)

	rules, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 4)

	assert.Equal(t, Rule{Kind: Exclude, Pattern: "*.o"}, rules[0])
	assert.Equal(t, Rule{Kind: Include, Pattern: "src/**"}, rules[1])
	assert.Equal(t, Rule{Kind: Exclude, Pattern: ".DS_Store"}, rules[2], "unprefixed lines exclude")
	assert.Equal(t, Rule{Kind: Exclude, Pattern: "build/"}, rules[3])
	assert.True(t, rules[3].IsDir())
	assert.False(t, rules[0].IsDir())
}

func TestLoadFile_PreservesOrderInArgs(t *testing.T) {
	path := writeRules(t, "+ keep/**\n- *\n")

	rules, err := LoadFile(path)
	require.NoError(t, err)

	// First-match-wins downstream: reordering these would change what
	// syncs.
	assert.Equal(t, []string{"+ keep/**", "- *"}, rules.Args())
}

func TestLoadFile_Absent(t *testing.T) {
	rules, err := LoadFile(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Nil(t, rules)
	assert.Empty(t, rules.Args())
}

func TestLoad_UsesWellKnownName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, config.SyncRulesFileName), []byte("- *.log\n"), 0o644))

	rules, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "- *.log", rules[0].Arg())
}

func TestRuleArg(t *testing.T) {
	assert.Equal(t, "+ src/**", Rule{Kind: Include, Pattern: "src/**"}.Arg())
	assert.Equal(t, "- *.tmp", Rule{Kind: Exclude, Pattern: "*.tmp"}.Arg())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "include", Include.String())
	assert.Equal(t, "exclude", Exclude.String())
}
