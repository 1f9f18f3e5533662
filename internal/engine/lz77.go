package engine

import (
	"encoding/binary"

	"pixpack-go/internal/job"

	"gitlab.com/tozd/go/errors"
)

// Token stream parameters. A token is three little-endian uint32 values:
// offset_px, length_px, next_px. offset=0 and length=0 marks a literal.
const (
	windowPx      = 4096
	hashSize      = 65536
	hashMask      = hashSize - 1
	maxMatchPx    = 64
	maxCandidates = 32
	tokenSize     = 12
	invalidPos    = 0xFFFFFFFF
)

// Codec turns packed RGBA pixels into a token stream and back.
type Codec interface {
	Compress(src []uint32) []byte
	Decompress(tokens []byte, pixelCount int) ([]uint32, error)
}

// CodecFor returns the codec implementing the variant.
func CodecFor(v job.EngineVariant) Codec {
	if v == job.VariantOptimized {
		return optimizedCodec{}
	}
	return referenceCodec{}
}

func pixelHash(p0, p1 uint32) uint32 {
	rot := p1<<5 | p1>>27
	return (p0 ^ rot) & hashMask
}

func appendToken(dst []byte, offset, length, next uint32) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, offset)
	dst = binary.LittleEndian.AppendUint32(dst, length)
	return binary.LittleEndian.AppendUint32(dst, next)
}

type referenceCodec struct{}

func (referenceCodec) Compress(src []uint32) []byte {
	n := len(src)
	if n == 0 {
		return nil
	}

	head := make([]uint32, hashSize)
	for i := range head {
		head[i] = invalidPos
	}
	prev := make([]uint32, windowPx)

	out := make([]byte, 0, tokenSize*(n/4+1))
	i := 0
	for i < n {
		remaining := n - i
		// the last pixel has no neighbour to hash with
		if remaining == 1 {
			out = appendToken(out, 0, 0, src[i])
			i++
			continue
		}

		maxMatch := remaining - 1
		if maxMatch > maxMatchPx {
			maxMatch = maxMatchPx
		}

		dictStart := 0
		if i >= windowPx {
			dictStart = i - windowPx
		}

		bestLen, bestOff := 0, 0
		candidate := head[pixelHash(src[i], src[i+1])]
		for chain := maxCandidates; candidate != invalidPos && int(candidate) >= dictStart && chain > 0; chain-- {
			c := int(candidate)
			l := 0
			for l < maxMatch && src[i+l] == src[c+l] {
				l++
			}
			if l > bestLen {
				bestLen = l
				bestOff = i - c
			}
			candidate = prev[c&(windowPx-1)]
		}

		next := src[i]
		if bestLen > 0 {
			next = src[i+bestLen]
		}
		out = appendToken(out, uint32(bestOff), uint32(bestLen), next)

		for k := 0; k <= bestLen; k++ {
			pos := i + k
			if pos+1 >= n {
				break
			}
			h := pixelHash(src[pos], src[pos+1])
			prev[pos&(windowPx-1)] = head[h]
			head[h] = uint32(pos)
		}
		i += bestLen + 1
	}
	return out
}

func (referenceCodec) Decompress(tokens []byte, pixelCount int) ([]uint32, error) {
	if err := checkStream(tokens, pixelCount); err != nil {
		return nil, err
	}
	dst := make([]uint32, pixelCount)
	out := 0
	for pos := 0; pos < len(tokens); pos += tokenSize {
		offset := int(binary.LittleEndian.Uint32(tokens[pos:]))
		length := int(binary.LittleEndian.Uint32(tokens[pos+4:]))
		next := binary.LittleEndian.Uint32(tokens[pos+8:])

		if offset == 0 && length == 0 {
			if out >= pixelCount {
				return nil, errors.Errorf("token %d overflows %d pixels", pos/tokenSize, pixelCount)
			}
			dst[out] = next
			out++
			continue
		}
		if err := checkMatch(pos/tokenSize, offset, length, out, pixelCount); err != nil {
			return nil, err
		}

		start := out - offset
		for k := 0; k < length; k++ {
			dst[out+k] = dst[start+k]
		}
		out += length
		dst[out] = next
		out++
	}
	if out != pixelCount {
		return nil, errors.Errorf("decoded %d pixels, expected %d", out, pixelCount)
	}
	return dst, nil
}

// checkStream rejects streams that cannot decode to pixelCount pixels before
// the output buffer is allocated.
func checkStream(tokens []byte, pixelCount int) error {
	if len(tokens)%tokenSize != 0 {
		return errors.Errorf("token stream length %d is not a multiple of %d", len(tokens), tokenSize)
	}
	if pixelCount < 0 || pixelCount > len(tokens)/tokenSize*(maxMatchPx+1) {
		return errors.Errorf("%d tokens cannot produce %d pixels", len(tokens)/tokenSize, pixelCount)
	}
	return nil
}

func checkMatch(token, offset, length, out, pixelCount int) error {
	if length > maxMatchPx {
		return errors.Errorf("token %d: length %d exceeds %d", token, length, maxMatchPx)
	}
	if offset == 0 {
		return errors.Errorf("token %d: zero offset with length %d", token, length)
	}
	if offset > out {
		return errors.Errorf("token %d: offset %d reaches before start (at %d)", token, offset, out)
	}
	if out+length+1 > pixelCount {
		return errors.Errorf("token %d overflows %d pixels", token, pixelCount)
	}
	return nil
}
