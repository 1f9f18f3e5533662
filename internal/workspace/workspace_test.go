package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"pixpack-go/internal/job"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndDestroy(t *testing.T) {
	root := t.TempDir()
	logger, _ := test.NewNullLogger()
	m := NewManager(root, "", logger)

	path, err := m.Create(job.ModeCompress)
	require.NoError(t, err)
	assert.Equal(t, root, filepath.Dir(path))
	assert.Regexp(t, regexp.MustCompile(`^pixpack_compress_[0-9a-f]{32}$`), filepath.Base(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, os.MkdirAll(filepath.Join(path, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "nested", "a.lz77"), []byte("x"), 0644))

	require.NoError(t, m.Destroy(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCreateIsUnique(t *testing.T) {
	m := NewManager(t.TempDir(), "unit", nil)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		path, err := m.Create(job.ModeDecompress)
		require.NoError(t, err)
		assert.False(t, seen[path], "duplicate workspace %s", path)
		seen[path] = true
	}
}

func TestCreateFailsOnBadRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	m := NewManager(file, "", nil)
	path, err := m.Create(job.ModeCompress)
	require.Error(t, err)
	assert.Empty(t, path)
	assert.Equal(t, job.KindEnvironment, job.KindOf(err))
}

func TestDestroyMissingIsNoop(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m := NewManager(t.TempDir(), "", logger)

	assert.NoError(t, m.Destroy(filepath.Join(m.Root(), "gone")))
	assert.NoError(t, m.Destroy(""))
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level)
	}
}

func TestDestroyReportsRemoveFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	m := NewManager(t.TempDir(), "", logger)
	path, err := m.Create(job.ModeCompress)
	require.NoError(t, err)

	m.SetRemoveFunc(func(string) error { return os.ErrPermission })
	err = m.Destroy(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrPermission)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	m.SetRemoveFunc(nil)
	require.NoError(t, m.Destroy(path))
	assert.NoDirExists(t, path)
}
