package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tclmcp/internal/domain"
)

func testTool() domain.ToolDefinition {
	return domain.ToolDefinition{
		Path:        domain.UserTool("alice", "utils", "reverse_string", "1.0"),
		Description: "Reverses a string",
		Script:      `result = text[::-1]`,
		Parameters: []domain.ParameterDefinition{
			{Name: "text", Description: "Text to reverse", Required: true, TypeName: "string"},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	tool := testTool()
	require.NoError(t, s.Save(tool))

	loaded, err := s.Load(tool.Path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, tool, *loaded)
}

func TestLoadSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	tool := testTool()
	require.NoError(t, s.Save(tool))

	reopened, err := Open(root, zap.NewNop())
	require.NoError(t, err)
	loaded, err := reopened.Load(tool.Path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, tool.Description, loaded.Description)
	require.Equal(t, tool.Script, loaded.Script)
	require.Equal(t, tool.Parameters, loaded.Parameters)
}

func TestFileLayout(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	versioned := testTool()
	require.NoError(t, s.Save(versioned))
	require.FileExists(t, filepath.Join(root, "users", "alice", "utils", "reverse_string_1.0.json"))

	latest := versioned
	latest.Path = domain.UserTool("alice", "utils", "greet", "")
	require.NoError(t, s.Save(latest))
	require.FileExists(t, filepath.Join(root, "users", "alice", "utils", "greet.json"))
	require.FileExists(t, filepath.Join(root, "index.json"))
}

func TestLoadMissingIsNotAnError(t *testing.T) {
	s, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	loaded, err := s.Load(domain.UserTool("nobody", "pkg", "tool", ""))
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestLoadFallsBackWithoutIndexEntry(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	tool := testTool()
	require.NoError(t, s.Save(tool))

	// Drop the index so only the deterministic file path remains.
	require.NoError(t, os.Remove(filepath.Join(root, "index.json")))
	fresh, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	loaded, err := fresh.Load(tool.Path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, tool.Script, loaded.Script)
}

func TestChecksumMismatchIsSoft(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	tool := testTool()
	require.NoError(t, s.Save(tool))

	// Edit the script out-of-band so the recorded checksum goes stale.
	location := filepath.Join(root, "users", "alice", "utils", "reverse_string_1.0.json")
	data, err := os.ReadFile(location)
	require.NoError(t, err)
	var doc PersistedTool
	require.NoError(t, json.Unmarshal(data, &doc))
	doc.Tool.Script = `result = "edited"`
	edited, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(location, edited, 0o644))

	loaded, err := s.Load(tool.Path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, `result = "edited"`, loaded.Script)
}

func TestListFiltersByNamespace(t *testing.T) {
	s, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	alice := testTool()
	bob := testTool()
	bob.Path = domain.UserTool("bob", "math", "add", "")
	require.NoError(t, s.Save(alice))
	require.NoError(t, s.Save(bob))

	all, err := s.List("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	onlyBob, err := s.List("bob")
	require.NoError(t, err)
	require.Len(t, onlyBob, 1)
	require.Equal(t, bob.Path, onlyBob[0].Path)

	none, err := s.List("carol")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestDeleteIsIdempotent(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	tool := testTool()
	require.NoError(t, s.Save(tool))

	deleted, err := s.Delete(tool.Path)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = s.Delete(tool.Path)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestDeletePrunesEmptyDirectories(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	tool := testTool()
	require.NoError(t, s.Save(tool))

	deleted, err := s.Delete(tool.Path)
	require.NoError(t, err)
	require.True(t, deleted)

	require.NoDirExists(t, filepath.Join(root, "users", "alice", "utils"))
	require.NoDirExists(t, filepath.Join(root, "users", "alice"))
	require.NoDirExists(t, filepath.Join(root, "users"))
	require.DirExists(t, root)
}

func TestCorruptIndexStartsFresh(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.json"), []byte("{not json"), 0o644))

	s, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	all, err := s.List("")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestChecksumIsStable(t *testing.T) {
	require.Equal(t, Checksum("abc"), Checksum("abc"))
	require.NotEqual(t, Checksum("abc"), Checksum("abd"))
	require.NotEmpty(t, Checksum(""))
}
