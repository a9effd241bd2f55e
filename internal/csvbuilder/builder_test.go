package csvbuilder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestBuild_GoldenArtifact(t *testing.T) {
	dir := t.TempDir()
	res, err := Build(dir, "P123", []string{"J1", "J2", "J3"}, Defaults{Active: "Y"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Rows)

	content, err := os.ReadFile(res.Path)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "site_employee_defaults", content)
}

func TestBuild_NoBOM(t *testing.T) {
	dir := t.TempDir()
	res, err := Build(dir, "P123", []string{"J1"}, Defaults{})
	require.NoError(t, err)

	content, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.True(t, len(content) >= 3)
	require.False(t, content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF, "artifact must not carry a BOM")

	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	require.Equal(t, Header, lines[0])
	require.Len(t, lines, 2)
}

func TestBuild_FilenameContract(t *testing.T) {
	dir := t.TempDir()
	res, err := Build(dir, "PX 001/a", []string{"J1"}, Defaults{})
	require.NoError(t, err)

	name := filepath.Base(res.Path)
	require.True(t, strings.HasPrefix(name, "SiteEmployeeDefaults_"), "got %s", name)
	require.True(t, strings.HasSuffix(name, "_PX_001_a.csv"), "got %s", name)
}

func TestBuild_DuplicatesPreserved(t *testing.T) {
	dir := t.TempDir()
	res, err := Build(dir, "P123", []string{"J1", "J1"}, Defaults{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Rows)
}

func TestSanitizeForFilename(t *testing.T) {
	cases := map[string]string{
		"P123":          "P123",
		"a b/c":         "a_b_c",
		"x..y-z_9":      "x..y-z_9",
		strings.Repeat("A", 100): strings.Repeat("A", 80),
	}
	for in, want := range cases {
		if got := SanitizeForFilename(in); got != want {
			t.Errorf("SanitizeForFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
