package engine

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"
	"gitlab.com/tozd/go/errors"
)

// ItemExt is the extension of intermediate item files.
const ItemExt = ".lz77"

// ItemPattern matches intermediate item file names.
const ItemPattern = "*" + ItemExt

const (
	itemMagicRaw uint32 = 0x4C5A3737
	itemMagicLZ4 uint32 = 0x4C5A3734

	itemHeaderSize  = 20
	maxPayloadBytes = 512 << 20
	maxPixels       = 256 << 20
)

// PayloadCodec selects how the token stream is stored inside an item.
type PayloadCodec int

const (
	PayloadRaw PayloadCodec = iota
	PayloadLZ4
)

func (p PayloadCodec) String() string {
	if p == PayloadLZ4 {
		return "lz4"
	}
	return "raw"
}

// ParsePayloadCodec parses "raw" or "lz4".
func ParsePayloadCodec(s string) (PayloadCodec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "raw":
		return PayloadRaw, nil
	case "lz4":
		return PayloadLZ4, nil
	default:
		return 0, errors.Errorf("unknown payload codec %q (valid: raw, lz4)", s)
	}
}

type itemHeader struct {
	Magic        uint32
	Width        uint32
	Height       uint32
	PayloadBytes uint64
}

// Item is one compressed image.
type Item struct {
	Width  uint32
	Height uint32
	Tokens []byte
}

// PixelCount returns width*height.
func (it Item) PixelCount() int {
	return int(uint64(it.Width) * uint64(it.Height))
}

// WriteItem writes the header and payload. It returns the bytes written.
func WriteItem(w io.Writer, it Item, codec PayloadCodec) (int64, error) {
	payload := it.Tokens
	magic := itemMagicRaw
	if codec == PayloadLZ4 {
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(it.Tokens); err != nil {
			return 0, errors.Errorf("lz4 encode: %w", err)
		}
		if err := zw.Close(); err != nil {
			return 0, errors.Errorf("lz4 close: %w", err)
		}
		payload = buf.Bytes()
		magic = itemMagicLZ4
	}
	if len(payload) == 0 || len(payload) > maxPayloadBytes {
		return 0, errors.Errorf("payload size %d out of range", len(payload))
	}

	hdr := itemHeader{
		Magic:        magic,
		Width:        it.Width,
		Height:       it.Height,
		PayloadBytes: uint64(len(payload)),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return 0, errors.Errorf("write header: %w", err)
	}
	n, err := w.Write(payload)
	if err != nil {
		return int64(itemHeaderSize + n), errors.Errorf("write payload: %w", err)
	}
	return int64(itemHeaderSize + n), nil
}

// ReadItem reads and validates an item written by WriteItem.
func ReadItem(r io.Reader) (Item, error) {
	var hdr itemHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return Item{}, errors.Errorf("read header: %w", err)
	}
	if hdr.Magic != itemMagicRaw && hdr.Magic != itemMagicLZ4 {
		return Item{}, errors.Errorf("bad magic 0x%08X", hdr.Magic)
	}
	if hdr.PayloadBytes == 0 || hdr.PayloadBytes > maxPayloadBytes {
		return Item{}, errors.Errorf("payload size %d out of range", hdr.PayloadBytes)
	}
	pixels := uint64(hdr.Width) * uint64(hdr.Height)
	if pixels == 0 || pixels > maxPixels {
		return Item{}, errors.Errorf("image size %dx%d out of range", hdr.Width, hdr.Height)
	}

	payload := make([]byte, hdr.PayloadBytes)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Item{}, errors.Errorf("read payload: %w", err)
	}

	tokens := payload
	if hdr.Magic == itemMagicLZ4 {
		limited := io.LimitReader(lz4.NewReader(bytes.NewReader(payload)), maxPayloadBytes+1)
		decoded, err := io.ReadAll(limited)
		if err != nil {
			return Item{}, errors.Errorf("lz4 decode: %w", err)
		}
		if len(decoded) > maxPayloadBytes {
			return Item{}, errors.Errorf("lz4 payload exceeds %d bytes", maxPayloadBytes)
		}
		tokens = decoded
	}

	return Item{Width: hdr.Width, Height: hdr.Height, Tokens: tokens}, nil
}
