// Package gx builds the "xgcode 1.0" container consumed by Flashforge firmware.
//
// A container is a fixed 58-byte little-endian header, a bitmap thumbnail and the
// print stream, which is a few metadata comment lines followed by the normalized
// G-code text.
//
//	0x00  12  magic "xgcode 1.0\n\x00"
//	0x0C   4  reserved, zero
//	0x10   4  thumbnail offset (always 58)
//	0x14   4  G-code offset (58 + thumbnail size)
//	0x18   4  G-code offset, repeated
//	0x1C   4  print time, seconds
//	0x20   4  primary filament length, mm
//	0x24   4  secondary filament length, mm
//	0x28   2  extruder type (1)
//	0x2A   2  layer height, micron
//	0x2C   2  reserved, zero
//	0x2E   2  shell count (3)
//	0x30   2  print speed, mm/s (0)
//	0x32   2  bed temperature, °C
//	0x34   2  primary nozzle temperature, °C
//	0x36   2  secondary nozzle temperature, °C
//	0x38   2  reserved (0xFFFE)
//	0x3A      thumbnail bytes, then the print stream
//
// Building a container never fails the upload: Encoder.Build reports a Result
// whose Payload falls back to the normalized G-code text whenever the container
// can't be assembled.
package gx
