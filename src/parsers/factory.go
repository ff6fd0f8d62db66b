package parsers

import (
	"fmt"
	"strings"
)

func GetParser(format string) (Parser, error) {
	switch strings.ToLower(format) {
	case "csv":
		return NewCSVRowParser(), nil
	case "json":
		return NewJSONRowParser(), nil
	default:
		return nil, fmt.Errorf("no parser available for format: %s", format)
	}
}
