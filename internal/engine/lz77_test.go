package engine

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"pixpack-go/internal/job"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patternPixels(n int, seed int64) []uint32 {
	r := rand.New(rand.NewSource(seed))
	palette := []uint32{0xFF000000, 0xFFFFFFFF, 0xFF3366CC, 0xFFCC6633, 0x80808080}
	out := make([]uint32, n)
	for i := range out {
		switch {
		case i%97 < 40:
			out[i] = palette[(i/7)%len(palette)]
		case i%97 < 60 && i >= 200:
			out[i] = out[i-200]
		default:
			out[i] = r.Uint32()
		}
	}
	return out
}

func TestCodecRoundTrip(t *testing.T) {
	cases := map[string][]uint32{
		"single":    {0xDEADBEEF},
		"two equal": {7, 7},
		"run":       {5, 5, 5, 5, 5, 5, 5, 5, 5, 5},
		"pattern":   patternPixels(20000, 1),
		"random":    patternPixels(3, 2),
		"long run":  make([]uint32, 10000),
	}

	for _, variant := range []job.EngineVariant{job.VariantReference, job.VariantOptimized} {
		codec := CodecFor(variant)
		for name, src := range cases {
			t.Run(variant.String()+"/"+name, func(t *testing.T) {
				tokens := codec.Compress(src)
				require.NotEmpty(t, tokens)
				assert.Zero(t, len(tokens)%tokenSize)

				got, err := codec.Decompress(tokens, len(src))
				require.NoError(t, err)
				assert.Equal(t, src, got)
			})
		}
	}
}

func TestCodecEmptyInput(t *testing.T) {
	assert.Empty(t, referenceCodec{}.Compress(nil))
	assert.Empty(t, optimizedCodec{}.Compress(nil))
}

func TestVariantsProduceIdenticalStreams(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		src := patternPixels(50000, seed)
		assert.Equal(t, referenceCodec{}.Compress(src), optimizedCodec{}.Compress(src))
	}
}

func TestCodecCompressesRuns(t *testing.T) {
	src := make([]uint32, 4096)
	tokens := CodecFor(job.VariantOptimized).Compress(src)
	assert.Less(t, len(tokens), len(src)*4/10)
}

func TestDecompressCrossVariant(t *testing.T) {
	src := patternPixels(8000, 9)
	tokens := referenceCodec{}.Compress(src)
	got, err := optimizedCodec{}.Decompress(tokens, len(src))
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func tok(offset, length, next uint32) []byte {
	return appendToken(nil, offset, length, next)
}

func TestDecompressRejectsInvalidStreams(t *testing.T) {
	cases := []struct {
		name   string
		tokens []byte
		pixels int
	}{
		{"truncated token", tok(0, 0, 1)[:10], 1},
		{"zero offset with length", tok(0, 3, 1), 4},
		{"offset before start", append(tok(0, 0, 1), tok(5, 1, 2)...), 3},
		{"literal overflow", append(tok(0, 0, 1), tok(0, 0, 2)...), 1},
		{"match overflow", append(tok(0, 0, 1), tok(1, 10, 2)...), 4},
		{"too few pixels", tok(0, 0, 1), 2},
		{"oversized header", tok(0, 0, 1), 256 << 20},
		{"match too long", append(tok(0, 0, 1), tok(1, maxMatchPx+1, 2)...), maxMatchPx + 3},
	}

	for _, variant := range []job.EngineVariant{job.VariantReference, job.VariantOptimized} {
		for _, tc := range cases {
			t.Run(variant.String()+"/"+tc.name, func(t *testing.T) {
				_, err := CodecFor(variant).Decompress(tc.tokens, tc.pixels)
				assert.Error(t, err)
			})
		}
	}
}

func TestDecompressRejectsOversizedPixelCount(t *testing.T) {
	for _, codec := range []Codec{referenceCodec{}, optimizedCodec{}} {
		_, err := codec.Decompress(tok(0, 0, 1), maxPixels)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot produce")
	}
}

func TestOverlappingMatchDecodes(t *testing.T) {
	// literal A, then copy it 5 times from offset 1, then B
	stream := append(tok(0, 0, 0xA), tok(1, 5, 0xB)...)
	for _, codec := range []Codec{referenceCodec{}, optimizedCodec{}} {
		got, err := codec.Decompress(stream, 7)
		require.NoError(t, err)
		assert.Equal(t, []uint32{0xA, 0xA, 0xA, 0xA, 0xA, 0xA, 0xB}, got)
	}
}

func TestTokenLayout(t *testing.T) {
	b := tok(1, 2, 3)
	require.Len(t, b, tokenSize)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(b))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(b[4:]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(b[8:]))
}

func BenchmarkCompress(b *testing.B) {
	src := patternPixels(1<<18, 42)
	for _, variant := range []job.EngineVariant{job.VariantReference, job.VariantOptimized} {
		codec := CodecFor(variant)
		b.Run(variant.String(), func(b *testing.B) {
			b.SetBytes(int64(len(src) * 4))
			for i := 0; i < b.N; i++ {
				codec.Compress(src)
			}
		})
	}
}
