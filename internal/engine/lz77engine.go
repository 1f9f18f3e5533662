package engine

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"pixpack-go/internal/logger"
	"pixpack-go/internal/statistics"

	"github.com/sirupsen/logrus"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"
)

// Options configures the LZ77 engine.
type Options struct {
	ImageExtensions []string
	OutputFormat    OutputFormat
	PayloadCodec    PayloadCodec
}

// LZ77Engine is the default Engine: it compresses every image of a folder
// into one .lz77 item per image, and back.
type LZ77Engine struct {
	opts   Options
	logger *logrus.Logger
}

// NewLZ77Engine returns an LZ77Engine, filling unset options with defaults.
func NewLZ77Engine(opts Options, logger *logrus.Logger) *LZ77Engine {
	if len(opts.ImageExtensions) == 0 {
		opts.ImageExtensions = DefaultImageExtensions
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = FormatBMP
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &LZ77Engine{opts: opts, logger: logger}
}

// itemFunc processes one file and returns the codec time spent on it.
type itemFunc func(workerID int, path string) (time.Duration, error)

// Compress encodes every image in p.SourceDir into p.OutputDir.
func (e *LZ77Engine) Compress(ctx context.Context, p Params, cb Callbacks) (int64, error) {
	files, err := collectFiles(p.SourceDir, e.opts.ImageExtensions)
	if err != nil {
		return 0, errors.Errorf("enumerate source folder: %w", err)
	}
	return e.run(ctx, "Compression", files, p, cb, func(workerID int, path string) (time.Duration, error) {
		return e.compressOne(workerID, path, p, cb)
	})
}

// Decompress decodes every item in p.SourceDir into images in p.OutputDir.
func (e *LZ77Engine) Decompress(ctx context.Context, p Params, cb Callbacks) (int64, error) {
	files, err := collectFiles(p.SourceDir, []string{ItemExt})
	if err != nil {
		return 0, errors.Errorf("enumerate item folder: %w", err)
	}
	return e.run(ctx, "Decompression", files, p, cb, func(workerID int, path string) (time.Duration, error) {
		return e.decompressOne(workerID, path, p, cb)
	})
}

func (e *LZ77Engine) run(ctx context.Context, name string, files []string, p Params, cb Callbacks, fn itemFunc) (int64, error) {
	stats := p.Stats
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	stats.AddImagesFound(int64(len(files)))
	cb.log(fmt.Sprintf("Loaded %s engine", p.Variant))

	total := len(files)
	if total == 0 {
		cb.log("No input files in source folder")
		return 0, nil
	}
	if err := os.MkdirAll(p.OutputDir, 0755); err != nil {
		return 0, errors.Errorf("create output folder: %w", err)
	}

	workers := p.Workers
	if workers > total {
		workers = total
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string, total)
	for _, f := range files {
		jobs <- f
	}
	close(jobs)

	var processed atomic.Int64
	var codecTime atomic.Int64

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		workerID := w
		g.Go(func() error {
			for path := range jobs {
				if err := ctx.Err(); err != nil {
					return err
				}
				d, err := safeItem(fn, workerID, path)
				codecTime.Add(int64(d))
				stats.IncrementItemsProcessed()
				if err != nil {
					stats.IncrementItemsFailed()
					stats.AddError(path, strings.ToLower(name), err.Error())
					cb.log(fmt.Sprintf("[worker %d] %v", workerID, err))
					logger.WithFile(e.logger, path).WithField("worker", workerID).Warnf("Item failed: %v", err)
				}
				done := processed.Add(1)
				cb.progress(int(done * 100 / int64(total)))
			}
			return nil
		})
	}

	err := g.Wait()
	elapsedMs := time.Duration(codecTime.Load()).Milliseconds()
	if err != nil {
		return elapsedMs, err
	}

	cb.progress(100)
	cb.log(fmt.Sprintf("--- %s finished --- files: %d | workers: %d | codec time: %d ms", name, total, workers, elapsedMs))
	return elapsedMs, nil
}

// safeItem runs fn, converting a panic into an item error.
func safeItem(fn itemFunc, workerID int, path string) (d time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while processing %s: %v", filepath.Base(path), r)
		}
	}()
	return fn(workerID, path)
}

func (e *LZ77Engine) compressOne(workerID int, path string, p Params, cb Callbacks) (time.Duration, error) {
	name := filepath.Base(path)
	pixels, w, h, err := loadPixels(path)
	if err != nil {
		return 0, errors.Errorf("cannot load %s: %w", name, err)
	}

	codec := CodecFor(p.Variant)
	start := time.Now()
	tokens := codec.Compress(pixels)
	elapsed := time.Since(start)
	if len(tokens) == 0 {
		return elapsed, errors.Errorf("compression produced 0 bytes: %s", name)
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	outPath := filepath.Join(p.OutputDir, stem+ItemExt)
	written, err := writeItemFile(outPath, Item{Width: uint32(w), Height: uint32(h), Tokens: tokens}, e.opts.PayloadCodec)
	if err != nil {
		return elapsed, errors.Errorf("write error %s: %w", stem+ItemExt, err)
	}

	if p.Stats != nil {
		if info, err := os.Stat(path); err == nil {
			p.Stats.AddBytes(info.Size(), written)
		}
		p.Stats.IncrementItemsWritten()
	}
	cb.log(fmt.Sprintf("[worker %d] Compressed: %s", workerID, name))
	return elapsed, nil
}

func (e *LZ77Engine) decompressOne(workerID int, path string, p Params, cb Callbacks) (time.Duration, error) {
	name := filepath.Base(path)
	item, size, err := readItemFile(path)
	if err != nil {
		return 0, errors.Errorf("cannot load or corrupt %s: %w", name, err)
	}

	codec := CodecFor(p.Variant)
	start := time.Now()
	pixels, err := codec.Decompress(item.Tokens, item.PixelCount())
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, errors.Errorf("pixel count mismatch in %s: %w", name, err)
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	outName := stem + e.opts.OutputFormat.Ext()
	outPath := filepath.Join(p.OutputDir, outName)
	if err := savePixels(outPath, pixels, int(item.Width), int(item.Height)); err != nil {
		return elapsed, errors.Errorf("image write error %s: %w", outName, err)
	}

	if p.Stats != nil {
		var outSize int64
		if info, err := os.Stat(outPath); err == nil {
			outSize = info.Size()
		}
		p.Stats.AddBytes(size, outSize)
		p.Stats.IncrementItemsWritten()
	}
	cb.log(fmt.Sprintf("[worker %d] Decompressed: %s", workerID, outName))
	return elapsed, nil
}

// writeItemFile writes through a .tmp sibling and renames it into place.
func writeItemFile(path string, it Item, codec PayloadCodec) (int64, error) {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(f)
	n, err := WriteItem(bw, it, codec)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	return n, nil
}

func readItemFile(path string) (Item, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Item{}, 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Item{}, 0, err
	}
	item, err := ReadItem(bufio.NewReader(f))
	return item, info.Size(), err
}

// collectFiles lists regular files directly inside dir whose lower-cased
// extension is in exts, sorted by name.
func collectFiles(dir string, exts []string) ([]string, error) {
	extSet := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		extSet[strings.ToLower(ext)] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if _, ok := extSet[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
