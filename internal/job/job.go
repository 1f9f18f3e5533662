package job

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode selects which direction a job runs in.
type Mode int

const (
	ModeCompress Mode = iota
	ModeDecompress
)

// String returns the lower-case name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeCompress:
		return "compress"
	case ModeDecompress:
		return "decompress"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "compress" or "decompress" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "compress":
		return ModeCompress, nil
	case "decompress":
		return ModeDecompress, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (valid: compress, decompress)", s)
	}
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// EngineVariant picks the engine implementation. It affects speed only.
type EngineVariant int

const (
	VariantReference EngineVariant = iota
	VariantOptimized
)

// String returns the lower-case name of the variant.
func (v EngineVariant) String() string {
	switch v {
	case VariantReference:
		return "reference"
	case VariantOptimized:
		return "optimized"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant parses "reference" or "optimized" (case-insensitive).
func ParseVariant(s string) (EngineVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reference", "ref":
		return VariantReference, nil
	case "optimized", "opt":
		return VariantOptimized, nil
	default:
		return 0, fmt.Errorf("unknown engine variant %q (valid: reference, optimized)", s)
	}
}

func (v EngineVariant) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *EngineVariant) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseVariant(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Worker count bounds accepted by Validate.
const (
	MinWorkers = 1
	MaxWorkers = 64
)

// Request describes one pipeline run. It is built once and passed by value.
type Request struct {
	Mode            Mode          `json:"mode"`
	SourcePath      string        `json:"source_path"`
	DestinationPath string        `json:"destination_path,omitempty"`
	EngineVariant   EngineVariant `json:"engine_variant"`
	WorkerCount     int           `json:"worker_count"`
}

// Result is the terminal outcome of one run.
type Result struct {
	Success   bool   `json:"success"`
	ElapsedMs int64  `json:"elapsed_ms"`
	ItemCount int    `json:"item_count"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	// OutputPath is the archive (compress) or folder (decompress) the run wrote to.
	OutputPath string `json:"output_path,omitempty"`

	Err error `json:"-"`
}

// Succeeded builds a success result.
func Succeeded(elapsedMs int64, items int, output string) Result {
	return Result{
		Success:    true,
		ElapsedMs:  elapsedMs,
		ItemCount:  items,
		OutputPath: output,
	}
}

// Failed builds a failure result from err.
func Failed(err error) Result {
	res := Result{Err: err}
	if err != nil {
		res.Error = err.Error()
		res.ErrorKind = KindOf(err).String()
	}
	return res
}
