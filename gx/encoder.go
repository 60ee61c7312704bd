package gx

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/arloliu/go-flashforge/logger"
)

// Kind is the payload kind; it doubles as the upload file extension.
type Kind string

const (
	// KindContainer is an xgcode container.
	KindContainer Kind = "gx"
	// KindGCode is plain normalized G-code text.
	KindGCode Kind = "gcode"
)

// DebugDumpName is the file name of the normalized G-code debug copy.
const DebugDumpName = "flashforge.gcode"

var (
	// ErrNoThumbnail reports that no thumbnail was supplied, so no container can be built.
	ErrNoThumbnail = errors.New("gx: no thumbnail available")

	// ErrNonASCII reports text that the firmware can't accept inside a container.
	ErrNonASCII = errors.New("gx: non-ASCII text")
)

var layerMarkRe = regexp.MustCompile(`;LAYER:\d+`)

// Encode assembles a container from normalized G-code, metadata and thumbnail bitmap bytes.
//
// A nil thumbnail returns ErrNoThumbnail. An empty, non-nil thumbnail is valid and
// yields a container whose G-code pointer equals the thumbnail pointer.
func Encode(gcode string, meta Metadata, thumbnail []byte) ([]byte, error) {
	if thumbnail == nil {
		return nil, ErrNoThumbnail
	}

	machineType := meta.MachineType
	if machineType == "" {
		machineType = DefaultMachineType
	}
	layerHeight := formatLayerHeight(meta.LayerHeight)

	var trailer bytes.Buffer
	fmt.Fprintf(&trailer, ";machine_type: %s\r\n", machineType)
	fmt.Fprintf(&trailer, ";right_extruder_material: %s\r\n", meta.MaterialName)
	fmt.Fprintf(&trailer, ";right_extruder_temperature: %d\r\n", meta.NozzleTemp[0])
	fmt.Fprintf(&trailer, ";platform_temperature: %d\r\n", meta.BedTemp)
	fmt.Fprintf(&trailer, ";layer_height: %s\r\n", layerHeight)
	fmt.Fprintf(&trailer, ";layer_count: %d\r\n", meta.LayerCount)
	trailer.WriteString(";start gcode\r\n")

	body := layerMarkRe.ReplaceAllLiteralString(gcode, ";layer:"+layerHeight)

	if i := firstNonASCII(trailer.Bytes()); i >= 0 {
		return nil, fmt.Errorf("%w: metadata byte %d", ErrNonASCII, i)
	}
	if i := firstNonASCII([]byte(body)); i >= 0 {
		return nil, fmt.Errorf("%w: G-code byte %d", ErrNonASCII, i)
	}

	out := make([]byte, 0, HeaderSize+len(thumbnail)+trailer.Len()+len(body))
	out = NewHeader(meta, len(thumbnail)).AppendBinary(out)
	out = append(out, thumbnail...)
	out = append(out, trailer.Bytes()...)
	out = append(out, body...)

	return out, nil
}

func firstNonASCII(b []byte) int {
	for i, c := range b {
		if c > 0x7F {
			return i
		}
	}

	return -1
}

// Result is the outcome of Encoder.Build.
type Result struct {
	// GCode is the normalized G-code text.
	GCode string
	// Metadata holds the values embedded in the container.
	Metadata Metadata
	// Container is the assembled container, nil when it isn't available.
	Container []byte
	// Err explains why Container is nil. It is informational only.
	Err error
}

// Payload returns the bytes to upload and their kind: the container when it
// is available, otherwise the normalized G-code text.
func (r Result) Payload() ([]byte, Kind) {
	if r.Container != nil {
		return r.Container, KindContainer
	}

	return []byte(r.GCode), KindGCode
}

// Encoder normalizes G-code and packages it into a container.
type Encoder struct {
	dumpPath    string
	machineType string
	logger      logger.Logger
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithDebugDumpPath sets where the normalized G-code debug copy is written.
// An empty path disables the copy.
func WithDebugDumpPath(path string) EncoderOption {
	return func(e *Encoder) { e.dumpPath = path }
}

// WithMachineType sets the machine type comment written to containers.
func WithMachineType(machineType string) EncoderOption {
	return func(e *Encoder) {
		if machineType != "" {
			e.machineType = machineType
		}
	}
}

// WithLogger sets the encoder logger.
func WithLogger(l logger.Logger) EncoderOption {
	return func(e *Encoder) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEncoder creates an Encoder. By default the debug copy goes to the system temp directory.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{
		dumpPath:    filepath.Join(os.TempDir(), DebugDumpName),
		machineType: DefaultMachineType,
		logger:      logger.GetLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Build normalizes raw G-code, writes the debug copy, extracts metadata and
// tries to assemble a container. It never fails: when assembly isn't possible
// Result.Container is nil and Result.Err says why.
func (e *Encoder) Build(raw string, info JobInfo, thumbnail []byte) Result {
	// metadata comes from the raw text so the T1 temperature survives normalization
	meta := ExtractMetadata(raw, info)
	meta.MachineType = e.machineType

	res := Result{
		GCode:    Normalize(raw),
		Metadata: meta,
	}

	e.dump(res.GCode)

	e.logger.Debug("container metadata",
		"print_time", meta.PrintTime,
		"filament_mm", meta.FilamentLength,
		"layer_height_micron", meta.LayerHeightMicron(),
		"layer_count", meta.LayerCount,
		"bed_temp", meta.BedTemp,
		"nozzle_temp", meta.NozzleTemp,
		"material", meta.MaterialName,
	)

	res.Container, res.Err = e.encode(res.GCode, meta, thumbnail)
	if res.Err != nil {
		if errors.Is(res.Err, ErrNoThumbnail) {
			e.logger.Debug("no thumbnail, container skipped")
		} else {
			e.logger.Warn("failed to generate container, falling back to G-code", "error", res.Err)
		}
		res.Container = nil
	}

	return res
}

func (e *Encoder) encode(gcode string, meta Metadata, thumbnail []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("gx: container assembly panic: %v", r)
		}
	}()

	return Encode(gcode, meta, thumbnail)
}

func (e *Encoder) dump(gcode string) {
	if e.dumpPath == "" {
		return
	}

	if err := os.WriteFile(e.dumpPath, []byte(gcode), 0o600); err != nil {
		e.logger.Debug("failed to write debug G-code copy", "path", e.dumpPath, "error", err)
		return
	}

	e.logger.Debug("debug G-code copy written", "path", e.dumpPath, "size", strconv.Itoa(len(gcode)))
}
