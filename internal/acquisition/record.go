package acquisition

import (
	"math"
	"strconv"
	"strings"
)

type recordKind int

const (
	recordSample recordKind = iota
	recordSkip              // blank, comment or header line
	recordMalformed
)

// parseRecord parses one OpenBCI/BrainFlow text line into channels values.
// Column 0 is the sample index; columns 1..channels carry EEG. Extra columns
// (accelerometer, timestamps) are ignored.
func parseRecord(line string, channels int, dst []float64) recordKind {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "%") {
		return recordSkip
	}

	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == '\t'
	})
	if len(fields) == 0 {
		return recordSkip
	}
	if _, ok := parseValue(fields[0]); !ok {
		// Column titles such as "Sample Index, EXG Channel 0, ..." have no
		// numbers at all; a data row with a broken index does
		for _, f := range fields[1:] {
			if _, ok := parseValue(f); ok {
				return recordMalformed
			}
		}
		return recordSkip
	}
	if len(fields) < channels+1 {
		return recordMalformed
	}

	for ch := range channels {
		v, ok := parseValue(fields[ch+1])
		if !ok {
			return recordMalformed
		}
		dst[ch] = v
	}
	return recordSample
}

// parseValue parses one finite number. NaN and Inf readings are rejected here
// so they never reach the band power estimates.
func parseValue(field string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
