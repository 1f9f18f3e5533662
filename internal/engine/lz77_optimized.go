package engine

import (
	"encoding/binary"
	"sync"

	"gitlab.com/tozd/go/errors"
)

// matchTables is the hash-chain working set reused across images.
type matchTables struct {
	head [hashSize]uint32
	prev [windowPx]uint32
}

var tablePool = sync.Pool{
	New: func() interface{} { return new(matchTables) },
}

// optimizedCodec emits exactly the same token stream as referenceCodec. It
// pools its tables, compares four pixels per step and writes tokens in place.
type optimizedCodec struct{}

func (optimizedCodec) Compress(src []uint32) []byte {
	n := len(src)
	if n == 0 {
		return nil
	}

	t := tablePool.Get().(*matchTables)
	defer tablePool.Put(t)
	for i := range t.head {
		t.head[i] = invalidPos
	}
	head, prev := &t.head, &t.prev

	out := make([]byte, 0, tokenSize*(n/4+1))
	i := 0
	for i < n {
		remaining := n - i
		if remaining == 1 {
			out = putToken(out, 0, 0, src[i])
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
		a := src[i : i+maxMatch]
		candidate := head[pixelHash(src[i], src[i+1])]
		for chain := maxCandidates; candidate != invalidPos && int(candidate) >= dictStart && chain > 0; chain-- {
			c := int(candidate)
			b := src[c : c+maxMatch]
			l := 0
			for l+4 <= maxMatch && a[l] == b[l] && a[l+1] == b[l+1] && a[l+2] == b[l+2] && a[l+3] == b[l+3] {
				l += 4
			}
			for l < maxMatch && a[l] == b[l] {
				l++
			}
			if l > bestLen {
				bestLen = l
				bestOff = i - c
				if l == maxMatch {
					// only a strictly longer match replaces the best one
					break
				}
			}
			candidate = prev[c&(windowPx-1)]
		}

		next := src[i]
		if bestLen > 0 {
			next = src[i+bestLen]
		}
		out = putToken(out, uint32(bestOff), uint32(bestLen), next)

		end := i + bestLen
		if end > n-2 {
			end = n - 2
		}
		for pos := i; pos <= end; pos++ {
			h := pixelHash(src[pos], src[pos+1])
			prev[pos&(windowPx-1)] = head[h]
			head[h] = uint32(pos)
		}
		i += bestLen + 1
	}
	return out
}

func putToken(dst []byte, offset, length, next uint32) []byte {
	l := len(dst)
	if cap(dst)-l < tokenSize {
		grown := make([]byte, l, 2*cap(dst)+tokenSize)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:l+tokenSize]
	binary.LittleEndian.PutUint32(dst[l:], offset)
	binary.LittleEndian.PutUint32(dst[l+4:], length)
	binary.LittleEndian.PutUint32(dst[l+8:], next)
	return dst
}

func (optimizedCodec) Decompress(tokens []byte, pixelCount int) ([]uint32, error) {
	if err := checkStream(tokens, pixelCount); err != nil {
		return nil, err
	}
	dst := make([]uint32, pixelCount)
	out := 0
	for pos := 0; pos < len(tokens); pos += tokenSize {
		tok := tokens[pos : pos+tokenSize]
		offset := int(binary.LittleEndian.Uint32(tok))
		length := int(binary.LittleEndian.Uint32(tok[4:]))
		next := binary.LittleEndian.Uint32(tok[8:])

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
		if offset >= length {
			copy(dst[out:out+length], dst[start:start+length])
		} else {
			// overlapping run: each copied pixel may feed the next one
			for k := 0; k < length; k++ {
				dst[out+k] = dst[start+k]
			}
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
