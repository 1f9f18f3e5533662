package job

import (
	"os"
	"path/filepath"
	"strings"
)

// Validate checks the request against the per-mode path rules and the worker
// bounds. It touches the filesystem only to stat the source.
func (r Request) Validate() error {
	const op = "validate request"

	if r.WorkerCount < MinWorkers || r.WorkerCount > MaxWorkers {
		return Errorf(KindValidation, op, "worker count %d out of range [%d, %d]", r.WorkerCount, MinWorkers, MaxWorkers)
	}
	if r.EngineVariant != VariantReference && r.EngineVariant != VariantOptimized {
		return Errorf(KindValidation, op, "unknown engine variant %s", r.EngineVariant)
	}

	switch r.Mode {
	case ModeCompress:
		if strings.TrimSpace(r.SourcePath) == "" {
			return Errorf(KindValidation, op, "source folder is required")
		}
		if strings.TrimSpace(r.DestinationPath) == "" {
			return Errorf(KindValidation, op, "destination archive is required")
		}
		info, err := os.Stat(r.SourcePath)
		if err != nil {
			return Errorf(KindValidation, op, "source folder %s: %w", r.SourcePath, err)
		}
		if !info.IsDir() {
			return Errorf(KindValidation, op, "source %s is not a folder", r.SourcePath)
		}
	case ModeDecompress:
		if strings.TrimSpace(r.SourcePath) == "" {
			return Errorf(KindValidation, op, "source archive is required")
		}
		info, err := os.Stat(r.SourcePath)
		if err != nil {
			return Errorf(KindValidation, op, "source archive %s: %w", r.SourcePath, err)
		}
		if info.IsDir() {
			return Errorf(KindValidation, op, "source %s is a folder, expected an archive", r.SourcePath)
		}
	default:
		return Errorf(KindValidation, op, "unknown mode %s", r.Mode)
	}
	return nil
}

// OutputPath returns where the run writes: the destination archive for
// compress, the derived folder for decompress.
func (r Request) OutputPath() string {
	if r.Mode == ModeDecompress {
		return DeriveOutputDir(r.SourcePath)
	}
	return r.DestinationPath
}

// DeriveOutputDir returns the folder a decompress run extracts into: the
// archive's directory joined with its base name minus the extension. When
// that would name the archive itself (no extension, or a bare ".zip") the
// folder is <base>_extracted instead.
func DeriveOutputDir(archivePath string) string {
	dir := filepath.Dir(archivePath)
	base := filepath.Base(archivePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if ext == "" || name == "" {
		name = base + "_extracted"
	}
	return filepath.Join(dir, name)
}
