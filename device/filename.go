package device

import (
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/arloliu/go-flashforge/gx"
)

// slicerPrefix is prepended to job names by some slicer profiles.
const slicerPrefix = "DNX_"

// FileName returns the printer side file name of an upload.
//
// The requested name is reduced to its base name; jobName is used when it is
// empty, and a random UUID when both are empty. A known payload extension is
// dropped, the first "DNX_" is removed and the extension of kind appended.
func FileName(requested string, jobName string, kind gx.Kind) string {
	name := baseName(requested)
	if name == "" {
		name = baseName(jobName)
	}
	if name == "" {
		name = uuid.New().String()
	}

	for _, ext := range []string{".gcode", ".gx", ".g"} {
		if len(name) > len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext) {
			name = name[:len(name)-len(ext)]
			break
		}
	}

	name = strings.Replace(name, slicerPrefix, "", 1)
	if name == "" {
		name = uuid.New().String()
	}

	return sanitize(name) + "." + string(kind)
}

func baseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}

	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}

	return base
}

// sanitize replaces bytes the printer command line can't carry.
func sanitize(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))

	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c > 0x7E {
			sb.WriteByte('_')
			continue
		}
		sb.WriteByte(c)
	}

	return sb.String()
}
