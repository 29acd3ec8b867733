// Package workdir manages the per-conversation working directory tree used
// during a finish attempt: <root>/<conversation>/{src,img}.
package workdir

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Dirs describes one conversation's working tree.
type Dirs struct {
	Root      string
	Source    string
	Converted string
}

// ArchivePath is the deterministic location of the final zip.
func (d Dirs) ArchivePath(conversationID string) string {
	return filepath.Join(d.Root, conversationID+".zip")
}

// Manager creates and destroys working trees under a fixed storage root.
type Manager struct {
	root   string
	logger *slog.Logger
}

func NewManager(log *slog.Logger, root string) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		root:   root,
		logger: log.With(slog.String("service", "workdir")),
	}
}

// Root returns the storage root all conversation trees live under.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the root directory for one conversation without creating it.
func (m *Manager) Path(conversationID string) string {
	return filepath.Join(m.root, conversationID)
}

// Prepare creates the conversation's directory tree. Pre-existing
// directories are not an error.
func (m *Manager) Prepare(conversationID string) (Dirs, error) {
	dirs := Dirs{
		Root:      m.Path(conversationID),
		Source:    filepath.Join(m.Path(conversationID), "src"),
		Converted: filepath.Join(m.Path(conversationID), "img"),
	}
	for _, dir := range []string{dirs.Root, dirs.Source, dirs.Converted} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Dirs{}, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return dirs, nil
}

// Destroy removes the conversation's tree recursively. Destroying an absent
// tree is a no-op.
func (m *Manager) Destroy(conversationID string) error {
	path := m.Path(conversationID)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	m.logger.Debug("working tree removed", slog.String("conversation", conversationID))
	return nil
}
