package gx

import "regexp"

var (
	// bed (M140) and primary hotend (M104) temperatures, with an optional fraction and tool index.
	tempCmdRe = regexp.MustCompile(`(M1(?:40|04) S\d+)(?:\.\d+)?(?: T\d)?`)
	// fan speed with a fractional part.
	fanCmdRe = regexp.MustCompile(`(M106 S\d+)(?:\.\d+)+`)
	// rapid moves at line start.
	rapidMoveRe = regexp.MustCompile(`(?m)^G0 (.*)`)
)

// Normalize rewrites slicer G-code into the dialect accepted by the firmware.
//
// The substitutions are applied in order:
//  1. M140/M104 temperatures lose their fraction and carry the tool index T0.
//  2. M106 fan speeds lose their fraction.
//  3. G0 moves at line start become G1, the firmware has no separate rapid move.
//
// Normalize is idempotent.
func Normalize(gcode string) string {
	gcode = tempCmdRe.ReplaceAllString(gcode, "${1} T0")
	gcode = fanCmdRe.ReplaceAllString(gcode, "${1}")
	gcode = rapidMoveRe.ReplaceAllString(gcode, "G1 ${1}")

	return gcode
}
