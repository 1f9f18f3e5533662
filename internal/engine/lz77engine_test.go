package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"pixpack-go/internal/job"
	"pixpack-go/internal/statistics"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestImage saves an opaque patterned image and returns its pixels.
func writeTestImage(t *testing.T, dir, name string, w, h, seed int) *image.NRGBA {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y+seed)%5 == 0 {
				img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * seed), G: uint8(y), B: uint8(seed), A: 255})
			}
		}
	}
	require.NoError(t, imaging.Save(img, filepath.Join(dir, name)))
	return img
}

type callbackRecorder struct {
	mu       sync.Mutex
	progress []int
	logs     []string
}

func (r *callbackRecorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(p int) {
			r.mu.Lock()
			r.progress = append(r.progress, p)
			r.mu.Unlock()
		},
		OnLog: func(line string) {
			r.mu.Lock()
			r.logs = append(r.logs, line)
			r.mu.Unlock()
		},
	}
}

func newTestEngine(opts Options) *LZ77Engine {
	logger, _ := test.NewNullLogger()
	return NewLZ77Engine(opts, logger)
}

func TestEngineRoundTrip(t *testing.T) {
	for _, variant := range []job.EngineVariant{job.VariantReference, job.VariantOptimized} {
		for _, payload := range []PayloadCodec{PayloadRaw, PayloadLZ4} {
			t.Run(fmt.Sprintf("%s/%s", variant, payload), func(t *testing.T) {
				src := t.TempDir()
				items := filepath.Join(t.TempDir(), "items")
				out := filepath.Join(t.TempDir(), "out")

				originals := map[string]*image.NRGBA{
					"a": writeTestImage(t, src, "a.png", 40, 30, 1),
					"b": writeTestImage(t, src, "b.bmp", 17, 9, 2),
					"c": writeTestImage(t, src, "c.PNG", 64, 64, 3),
				}
				require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("skip"), 0644))

				eng := newTestEngine(Options{PayloadCodec: payload})
				p := Params{SourceDir: src, OutputDir: items, Variant: variant, Workers: 2}
				_, err := eng.Compress(context.Background(), p, Callbacks{})
				require.NoError(t, err)

				names, err := filepath.Glob(filepath.Join(items, "*"+ItemExt))
				require.NoError(t, err)
				assert.Len(t, names, 3)

				p = Params{SourceDir: items, OutputDir: out, Variant: variant, Workers: 3}
				_, err = eng.Decompress(context.Background(), p, Callbacks{})
				require.NoError(t, err)

				for stem, want := range originals {
					got, err := imaging.Open(filepath.Join(out, stem+".bmp"))
					require.NoError(t, err, stem)
					assert.Equal(t, want.Pix, imaging.Clone(got).Pix, stem)
				}
			})
		}
	}
}

func TestEnginePNGOutput(t *testing.T) {
	src := t.TempDir()
	items := t.TempDir()
	out := t.TempDir()
	want := writeTestImage(t, src, "pic.jpg.png", 12, 12, 4)

	eng := newTestEngine(Options{OutputFormat: FormatPNG})
	_, err := eng.Compress(context.Background(), Params{SourceDir: src, OutputDir: items, Workers: 1}, Callbacks{})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(items, "pic.jpg.lz77"))

	_, err = eng.Decompress(context.Background(), Params{SourceDir: items, OutputDir: out, Workers: 1}, Callbacks{})
	require.NoError(t, err)

	got, err := imaging.Open(filepath.Join(out, "pic.jpg.png"))
	require.NoError(t, err)
	assert.Equal(t, want.Pix, imaging.Clone(got).Pix)
}

func TestEngineReportsProgressAndLogs(t *testing.T) {
	src := t.TempDir()
	for i := 0; i < 4; i++ {
		writeTestImage(t, src, fmt.Sprintf("img%d.png", i), 8, 8, i+1)
	}

	rec := &callbackRecorder{}
	stats := statistics.NewStatistics()
	eng := newTestEngine(Options{})
	elapsed, err := eng.Compress(context.Background(), Params{SourceDir: src, OutputDir: t.TempDir(), Workers: 2, Stats: stats}, rec.callbacks())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, int64(0))

	require.NotEmpty(t, rec.progress)
	assert.Equal(t, 100, rec.progress[len(rec.progress)-1])
	for _, p := range rec.progress {
		assert.True(t, p >= 0 && p <= 100, "progress %d", p)
	}
	assert.Contains(t, rec.logs, "Loaded reference engine")
	assert.Contains(t, rec.logs[len(rec.logs)-1], "Compression finished")

	assert.Equal(t, int64(4), stats.ImagesFound)
	assert.Equal(t, int64(4), stats.ItemsWritten)
	assert.Equal(t, int64(0), stats.ItemsFailed)
}

func TestEngineSkipsBadItems(t *testing.T) {
	src := t.TempDir()
	writeTestImage(t, src, "good.png", 8, 8, 1)
	require.NoError(t, os.WriteFile(filepath.Join(src, "broken.png"), []byte("not an image"), 0644))

	rec := &callbackRecorder{}
	stats := statistics.NewStatistics()
	items := t.TempDir()
	eng := newTestEngine(Options{})
	_, err := eng.Compress(context.Background(), Params{SourceDir: src, OutputDir: items, Workers: 2, Stats: stats}, rec.callbacks())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(items, "good.lz77"))
	assert.NoFileExists(t, filepath.Join(items, "broken.lz77"))
	assert.Equal(t, int64(1), stats.ItemsFailed)
	assert.Equal(t, 100, rec.progress[len(rec.progress)-1])

	require.NoError(t, os.WriteFile(filepath.Join(items, "corrupt.lz77"), []byte("garbage"), 0644))
	out := t.TempDir()
	_, err = eng.Decompress(context.Background(), Params{SourceDir: items, OutputDir: out, Workers: 2}, Callbacks{})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "good.bmp"))
	assert.NoFileExists(t, filepath.Join(out, "corrupt.bmp"))
}

func TestEngineEmptyFolder(t *testing.T) {
	out := filepath.Join(t.TempDir(), "never")
	rec := &callbackRecorder{}
	eng := newTestEngine(Options{})

	elapsed, err := eng.Compress(context.Background(), Params{SourceDir: t.TempDir(), OutputDir: out, Workers: 4}, rec.callbacks())
	require.NoError(t, err)
	assert.Zero(t, elapsed)
	assert.NoDirExists(t, out)
	assert.Contains(t, rec.logs, "No input files in source folder")
}

func TestEngineMissingSource(t *testing.T) {
	eng := newTestEngine(Options{})
	_, err := eng.Compress(context.Background(), Params{SourceDir: filepath.Join(t.TempDir(), "missing"), OutputDir: t.TempDir(), Workers: 1}, Callbacks{})
	assert.Error(t, err)
}

func TestEngineCanceled(t *testing.T) {
	src := t.TempDir()
	writeTestImage(t, src, "a.png", 8, 8, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := newTestEngine(Options{})
	_, err := eng.Compress(ctx, Params{SourceDir: src, OutputDir: t.TempDir(), Workers: 1}, Callbacks{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectFilesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "c.txt", "d.tif"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0755))

	files, err := collectFiles(dir, DefaultImageExtensions)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.PNG"),
		filepath.Join(dir, "d.tif"),
	}, files)
}
