// Package workspace allocates and removes the per-run scratch directories.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pixpack-go/internal/job"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gitlab.com/tozd/go/errors"
)

// DefaultPrefix is the name prefix used when none is configured.
const DefaultPrefix = "pixpack"

// Manager creates and destroys temporary workspaces under Root.
type Manager struct {
	root   string
	prefix string
	logger *logrus.Logger
	remove func(string) error
}

// NewManager returns a Manager. An empty root means the platform temp dir.
func NewManager(root, prefix string, logger *logrus.Logger) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{root: root, prefix: prefix, logger: logger, remove: os.RemoveAll}
}

// SetRemoveFunc replaces the function Destroy uses to delete a workspace.
// A nil fn restores os.RemoveAll.
func (m *Manager) SetRemoveFunc(fn func(string) error) {
	if fn == nil {
		fn = os.RemoveAll
	}
	m.remove = fn
}

// Root returns the directory workspaces are created in.
func (m *Manager) Root() string {
	return m.root
}

// Create makes a new empty workspace named <prefix>_<mode>_<hex>.
func (m *Manager) Create(mode job.Mode) (string, error) {
	name := fmt.Sprintf("%s_%s_%s", m.prefix, mode, randomHex())
	path := filepath.Join(m.root, name)

	// Mkdir (not MkdirAll) so a name collision fails instead of sharing a directory.
	if err := os.Mkdir(path, 0700); err != nil {
		return "", job.E(job.KindEnvironment, "create workspace",
			errors.Errorf("mkdir %s: %w", path, err))
	}

	m.logger.WithFields(logrus.Fields{
		"workspace": path,
		"mode":      mode.String(),
	}).Debug("Created workspace")
	return path, nil
}

// Destroy removes the workspace recursively. The error is returned for
// logging only and must never fail a run.
func (m *Manager) Destroy(path string) error {
	if path == "" {
		return nil
	}
	if err := m.remove(path); err != nil {
		m.logger.WithField("workspace", path).Warnf("Could not remove workspace: %v", err)
		return errors.Errorf("remove workspace %s: %w", path, err)
	}
	m.logger.WithField("workspace", path).Debug("Removed workspace")
	return nil
}

// randomHex returns 128 random bits as 32 hex characters.
func randomHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
