package stack

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// TIFF tag IDs consulted for physical scale recovery. The decode
// library does not expose raw tags, so the first IFD is scanned by
// hand; a classic TIFF header is a handful of fixed-layout words.
const (
	tagImageDescription = 270
	tagXResolution      = 282
	tagResolutionUnit   = 296
)

const (
	resUnitNone = 1
	resUnitInch = 2
	resUnitCm   = 3
)

// tiffMeta holds the raw metadata fields relevant to pixel scale.
type tiffMeta struct {
	description string
	xresNum     uint32
	xresDen     uint32
	resUnit     uint16
}

// parseMetadata scans the first IFD of a classic TIFF for the
// ImageDescription, XResolution and ResolutionUnit tags.
func parseMetadata(data []byte) (*tiffMeta, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("file too short for a TIFF header")
	}

	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF: bad byte order mark %q", data[:2])
	}
	if magic := order.Uint16(data[2:4]); magic != 42 {
		return nil, fmt.Errorf("not a classic TIFF: magic %d", magic)
	}

	ifdOff := order.Uint32(data[4:8])
	if int(ifdOff)+2 > len(data) {
		return nil, fmt.Errorf("IFD offset %d out of range", ifdOff)
	}

	meta := &tiffMeta{resUnit: resUnitInch} // TIFF default
	count := int(order.Uint16(data[ifdOff : ifdOff+2]))
	for i := 0; i < count; i++ {
		entry := int(ifdOff) + 2 + 12*i
		if entry+12 > len(data) {
			return nil, fmt.Errorf("IFD entry %d out of range", i)
		}
		tag := order.Uint16(data[entry : entry+2])
		typ := order.Uint16(data[entry+2 : entry+4])
		n := order.Uint32(data[entry+4 : entry+8])
		val := data[entry+8 : entry+12]

		switch tag {
		case tagImageDescription:
			if typ != 2 { // ASCII
				continue
			}
			meta.description = readASCII(data, order, n, val)
		case tagXResolution:
			if typ != 5 { // RATIONAL
				continue
			}
			off := order.Uint32(val)
			if int(off)+8 <= len(data) {
				meta.xresNum = order.Uint32(data[off : off+4])
				meta.xresDen = order.Uint32(data[off+4 : off+8])
			}
		case tagResolutionUnit:
			if typ == 3 { // SHORT
				meta.resUnit = order.Uint16(val[:2])
			}
		}
	}
	return meta, nil
}

// readASCII resolves an ASCII tag value, inline when it fits in the
// four-byte value slot, via offset otherwise.
func readASCII(data []byte, order binary.ByteOrder, n uint32, val []byte) string {
	var raw []byte
	if n <= 4 {
		raw = val[:n]
	} else {
		off := order.Uint32(val)
		if int(off)+int(n) > len(data) {
			return ""
		}
		raw = data[off : off+n]
	}
	return strings.TrimRight(string(raw), "\x00")
}

// pixelSize derives µm/pixel. ImageJ writes XResolution in pixels per
// unit with the unit named in its ImageDescription block; plain TIFFs
// fall back to ResolutionUnit.
func (m *tiffMeta) pixelSize() PixelSize {
	if m.xresNum == 0 || m.xresDen == 0 {
		return PixelSize{}
	}
	// Pixel pitch in resolution units per pixel.
	pitch := float64(m.xresDen) / float64(m.xresNum)

	if unit := imagejUnit(m.description); unit != "" {
		switch unit {
		case "micron", "um", "µm", "micrometer":
			return PixelSize{Microns: pitch, Known: true, Source: "imagej"}
		case "nm", "nanometer":
			return PixelSize{Microns: pitch / 1000.0, Known: true, Source: "imagej"}
		case "mm", "millimeter":
			return PixelSize{Microns: pitch * 1000.0, Known: true, Source: "imagej"}
		case "cm", "centimeter":
			return PixelSize{Microns: pitch * 10000.0, Known: true, Source: "imagej"}
		}
		return PixelSize{}
	}

	switch m.resUnit {
	case resUnitInch:
		return PixelSize{Microns: pitch * 25400.0, Known: true, Source: "resolution"}
	case resUnitCm:
		return PixelSize{Microns: pitch * 10000.0, Known: true, Source: "resolution"}
	}
	return PixelSize{}
}

// imagejUnit extracts the "unit=" line from an ImageJ description
// block ("ImageJ=1.53a\nimages=4\nunit=micron\n...").
func imagejUnit(desc string) string {
	if !strings.Contains(desc, "ImageJ") {
		return ""
	}
	for _, line := range strings.Split(desc, "\n") {
		if v, ok := strings.CutPrefix(line, "unit="); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// imagejChannels reads the "channels=" count from an ImageJ
// description, zero when absent. Currently informational only; the
// page count drives channel splitting.
func imagejChannels(desc string) int {
	for _, line := range strings.Split(desc, "\n") {
		if v, ok := strings.CutPrefix(line, "channels="); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}
