package gx

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMachineType is written to the ";machine_type:" comment of the print stream.
const DefaultMachineType = "Adventurer 4 Series"

var (
	printTimeRe   = regexp.MustCompile(`;TIME:(\d+)`)
	layerHeightRe = regexp.MustCompile(`;Layer height: ([\d.]+)`)
	layerCountRe  = regexp.MustCompile(`;LAYER_COUNT:(\d+)`)
	bedTempRe     = regexp.MustCompile(`M140 S(\d+)`)
	nozzleTempRe  = regexp.MustCompile(`M104 S(\d+)(?:\.\d+)?( T\d)?`)
)

// JobInfo is the read-only job description supplied by the host application.
type JobInfo struct {
	// Name is the job name, used as upload file name when no explicit name is given.
	Name string
	// MaterialLengths holds the filament usage per extruder, in metres.
	MaterialLengths []float64
	// MaterialNames holds the material name per extruder.
	MaterialNames []string
}

// Metadata holds the values embedded in the container header and comment trailer.
//
// Every field defaults to zero or empty when its source is missing or can't be parsed.
type Metadata struct {
	PrintTime      uint32    // seconds
	FilamentLength [2]uint32 // mm, primary and secondary extruder
	LayerHeight    float64   // mm
	LayerCount     uint32
	BedTemp        uint16    // °C
	NozzleTemp     [2]uint16 // °C, primary and secondary extruder
	MaterialName   string
	MachineType    string
}

// LayerHeightMicron returns the layer height in micron, truncated.
// Values that don't fit the 16-bit header field yield zero.
func (m Metadata) LayerHeightMicron() uint16 {
	v := m.LayerHeight * 1000
	if math.IsNaN(v) || v < 0 || v > math.MaxUint16 {
		return 0
	}

	return uint16(v)
}

// ExtractMetadata derives container metadata from G-code comments and commands
// plus the host supplied job info.
//
// It accepts raw or normalized text. Temperature commands without a tool index
// count as the primary extruder. Extraction failures are silent and leave the
// corresponding field zero.
func ExtractMetadata(gcode string, info JobInfo) Metadata {
	meta := Metadata{
		PrintTime:   uint32(firstUint(printTimeRe, gcode, math.MaxUint32)),
		LayerCount:  uint32(firstUint(layerCountRe, gcode, math.MaxUint32)),
		BedTemp:     uint16(firstUint(bedTempRe, gcode, math.MaxUint16)),
		MachineType: DefaultMachineType,
	}

	if m := layerHeightRe.FindStringSubmatch(gcode); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			meta.LayerHeight = v
		}
	}

	meta.NozzleTemp[0], meta.NozzleTemp[1] = nozzleTemps(gcode)

	for i := 0; i < len(meta.FilamentLength) && i < len(info.MaterialLengths); i++ {
		meta.FilamentLength[i] = metresToMillimetres(info.MaterialLengths[i])
	}

	if len(info.MaterialNames) > 0 {
		meta.MaterialName = info.MaterialNames[0]
	}

	return meta
}

// nozzleTemps returns the first primary (no index or T0) and the first
// secondary (T1) hotend temperature.
func nozzleTemps(gcode string) (primary uint16, secondary uint16) {
	var havePrimary, haveSecondary bool

	for _, m := range nozzleTempRe.FindAllStringSubmatch(gcode, -1) {
		tool := strings.TrimSpace(m[2])
		switch {
		case !havePrimary && (tool == "" || tool == "T0"):
			primary = uint16(parseUint(m[1], math.MaxUint16))
			havePrimary = true
		case !haveSecondary && tool == "T1":
			secondary = uint16(parseUint(m[1], math.MaxUint16))
			haveSecondary = true
		}

		if havePrimary && haveSecondary {
			break
		}
	}

	return primary, secondary
}

func firstUint(re *regexp.Regexp, s string, limit uint64) uint64 {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}

	return parseUint(m[1], limit)
}

// parseUint parses s and returns zero when it is malformed or above limit.
func parseUint(s string, limit uint64) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v > limit {
		return 0
	}

	return v
}

func metresToMillimetres(m float64) uint32 {
	v := 1000 * m
	if math.IsNaN(v) || v < 0 || v > math.MaxUint32 {
		return 0
	}

	return uint32(v)
}

// formatLayerHeight renders a float the way the firmware's reference slicer
// does: shortest representation, always with a decimal point.
func formatLayerHeight(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}

	return s
}
