// Package store persists user tool definitions as a JSON file tree:
// an index.json for fast lookup over self-contained per-tool
// documents. In-memory state elsewhere is authoritative; the store is
// a best-effort durable mirror.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tclmcp/internal/domain"
)

const indexFileName = "index.json"

// Metadata travels with every persisted tool document.
type Metadata struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Checksum    string    `json:"checksum"`
	FileVersion int       `json:"file_version"`
}

// PersistedTool is the on-disk document for one tool.
type PersistedTool struct {
	Metadata Metadata              `json:"metadata"`
	Tool     domain.ToolDefinition `json:"tool"`
}

type indexEntry struct {
	Path         domain.ToolPath `json:"path"`
	FileLocation string          `json:"file_path"`
	Checksum     string          `json:"checksum"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type index struct {
	Tools       map[string]indexEntry `json:"tools"`
	LastUpdated time.Time             `json:"last_updated"`
}

// FileStore is a file-backed tool store rooted at one directory. It is
// not safe for concurrent use; the executor serializes all access.
type FileStore struct {
	root      string
	indexPath string
	index     index
	logger    *zap.Logger
}

// DefaultRoot returns the per-user storage directory, honoring
// XDG_DATA_HOME before falling back to ~/.local/share.
func DefaultRoot() string {
	base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME"))
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			base = filepath.Join(home, ".local", "share")
		}
	}
	if base == "" {
		base = "."
	}
	return filepath.Join(base, domain.AppName, domain.StorageDirName)
}

// Open creates the root directory if needed and loads the index. A
// corrupt index is replaced with an empty one rather than failing, the
// per-tool files remain authoritative.
func Open(root string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, domain.E(domain.CodePersistence, "store.Open", "", err)
	}
	s := &FileStore{
		root:      root,
		indexPath: filepath.Join(root, indexFileName),
		index:     index{Tools: map[string]indexEntry{}},
		logger:    logger.Named("store"),
	}
	data, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, domain.E(domain.CodePersistence, "store.Open", "", err)
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		s.logger.Warn("index file unreadable, starting fresh", zap.Error(err))
		s.index = index{Tools: map[string]indexEntry{}}
	}
	if s.index.Tools == nil {
		s.index.Tools = map[string]indexEntry{}
	}
	return s, nil
}

// Root returns the storage root directory.
func (s *FileStore) Root() string { return s.root }

// Save writes a tool document and updates the index.
func (s *FileStore) Save(tool domain.ToolDefinition) error {
	filePath := s.toolFilePath(tool.Path)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return domain.E(domain.CodePersistence, "store.Save", "", err)
	}

	now := time.Now().UTC()
	checksum := Checksum(tool.Script)
	doc := PersistedTool{
		Metadata: Metadata{
			ID:          uuid.NewString(),
			CreatedAt:   now,
			UpdatedAt:   now,
			Checksum:    checksum,
			FileVersion: 1,
		},
		Tool: tool,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return domain.E(domain.CodePersistence, "store.Save", "", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return domain.E(domain.CodePersistence, "store.Save", "", err)
	}

	s.index.Tools[tool.Path.String()] = indexEntry{
		Path:         tool.Path,
		FileLocation: filePath,
		Checksum:     checksum,
		UpdatedAt:    now,
	}
	s.index.LastUpdated = now
	if err := s.saveIndex(); err != nil {
		return err
	}
	s.logger.Info("saved tool", zap.String("path", tool.Path.String()), zap.String("file", filePath))
	return nil
}

// Load reads a tool back. The index is consulted first; a checksum
// mismatch against the index is logged as a warning but the loaded
// value is still returned. Without a usable index entry the
// deterministic file path is tried directly. Absence at both steps
// returns (nil, nil).
func (s *FileStore) Load(path domain.ToolPath) (*domain.ToolDefinition, error) {
	if entry, ok := s.index.Tools[path.String()]; ok {
		doc, err := readToolFile(entry.FileLocation)
		if err == nil {
			if Checksum(doc.Tool.Script) != entry.Checksum {
				s.logger.Warn("checksum mismatch, file may have been edited",
					zap.String("path", path.String()),
					zap.String("file", entry.FileLocation))
			}
			return &doc.Tool, nil
		}
		if !os.IsNotExist(err) {
			return nil, domain.E(domain.CodePersistence, "store.Load", "", err)
		}
	}

	doc, err := readToolFile(s.toolFilePath(path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.E(domain.CodePersistence, "store.Load", "", err)
	}
	return &doc.Tool, nil
}

// List loads every indexed tool, optionally filtered by a namespace
// keyword or user id. Entries that fail to load are skipped.
func (s *FileStore) List(namespaceFilter string) ([]domain.ToolDefinition, error) {
	tools := make([]domain.ToolDefinition, 0, len(s.index.Tools))
	for _, entry := range s.index.Tools {
		if namespaceFilter != "" && !entry.Path.Namespace.Matches(namespaceFilter) {
			continue
		}
		tool, err := s.Load(entry.Path)
		if err != nil || tool == nil {
			if err != nil {
				s.logger.Warn("skipping unreadable tool",
					zap.String("path", entry.Path.String()), zap.Error(err))
			}
			continue
		}
		tools = append(tools, *tool)
	}
	return tools, nil
}

// Delete removes a tool's index entry and file, then prunes any
// directories left empty, walking upward and stopping at the storage
// root. Returns whether anything was actually removed, so repeated
// deletes stay idempotent.
func (s *FileStore) Delete(path domain.ToolPath) (bool, error) {
	entry, ok := s.index.Tools[path.String()]
	if !ok {
		return false, nil
	}
	delete(s.index.Tools, path.String())

	if err := os.Remove(entry.FileLocation); err != nil && !os.IsNotExist(err) {
		return false, domain.E(domain.CodePersistence, "store.Delete", "", err)
	}
	s.cleanupEmptyDirs(filepath.Dir(entry.FileLocation))

	s.index.LastUpdated = time.Now().UTC()
	if err := s.saveIndex(); err != nil {
		return false, err
	}
	s.logger.Info("deleted tool", zap.String("path", path.String()))
	return true, nil
}

func (s *FileStore) saveIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return domain.E(domain.CodePersistence, "store.saveIndex", "", err)
	}
	if err := os.WriteFile(s.indexPath, data, 0o644); err != nil {
		return domain.E(domain.CodePersistence, "store.saveIndex", "", err)
	}
	return nil
}

// cleanupEmptyDirs ascends from dir toward the root, removing each
// directory that is empty. The loop stops at the first non-empty
// directory or at the storage root itself, which is never removed.
func (s *FileStore) cleanupEmptyDirs(dir string) {
	root := filepath.Clean(s.root)
	for current := filepath.Clean(dir); current != root && strings.HasPrefix(current, root+string(filepath.Separator)); current = filepath.Dir(current) {
		entries, err := os.ReadDir(current)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(current); err != nil {
			return
		}
		s.logger.Debug("removed empty directory", zap.String("dir", current))
	}
}

// toolFilePath derives the deterministic on-disk location for a path:
// system/{bin,sbin,docs}/ for system tools, users/<user>[/<package>]/
// for user tools, with the version folded into the filename unless it
// is "latest".
func (s *FileStore) toolFilePath(path domain.ToolPath) string {
	var dir string
	switch path.Namespace.Kind {
	case domain.KindBin, domain.KindSbin, domain.KindDocs:
		dir = filepath.Join(s.root, "system", string(path.Namespace.Kind))
	default:
		dir = filepath.Join(s.root, "users", path.Namespace.User)
		if path.Package != "" {
			dir = filepath.Join(dir, path.Package)
		}
	}
	name := path.Name + ".json"
	if path.Version != domain.VersionLatest {
		name = fmt.Sprintf("%s_%s.json", path.Name, path.Version)
	}
	return filepath.Join(dir, name)
}

func readToolFile(location string) (*PersistedTool, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, err
	}
	var doc PersistedTool
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Checksum computes the non-cryptographic content hash recorded for a
// tool script.
func Checksum(script string) string {
	return fmt.Sprintf("%x", xxhash.Sum64String(script))
}
