//go:build windows

package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveOutputDirWindows(t *testing.T) {
	assert.Equal(t, `C:\out\batch1`, DeriveOutputDir(`C:\out\batch1.zip`))
}
