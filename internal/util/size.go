package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFileSize converts a human-readable size string such as "12.4 MB"
// into bytes. The string must contain exactly a decimal value and a unit
// separated by whitespace. Units are binary multiples of 1024 and are
// matched case-insensitively.
func ParseFileSize(sizeStr string) (uint64, error) {
	parts := strings.Fields(sizeStr)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid file size format: %q", sizeStr)
	}

	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse size number %q: %w", parts[0], err)
	}

	switch strings.ToUpper(parts[1]) {
	case "B":
		return uint64(num), nil
	case "KB":
		return uint64(num * 1024), nil
	case "MB":
		return uint64(num * 1024 * 1024), nil
	case "GB":
		return uint64(num * 1024 * 1024 * 1024), nil
	default:
		return 0, fmt.Errorf("unknown size unit: %q", parts[1])
	}
}
