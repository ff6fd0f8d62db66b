package parsers

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/username/tradeingest/src/models"
)

// numbers stay json.Number so prices keep their exact decimal text
var connectorJSON = jsoniter.Config{UseNumber: true}.Froze()

// JSONRowParser reads connector payloads: either an array of objects or an
// object with a "trades" array.
type JSONRowParser struct{}

func NewJSONRowParser() *JSONRowParser {
	return &JSONRowParser{}
}

func (p *JSONRowParser) Parse(file io.Reader) ([]models.RawTrade, error) {
	var payload any
	if err := connectorJSON.NewDecoder(file).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrParsingFailed, err)
	}

	var items []any
	switch v := payload.(type) {
	case []any:
		items = v
	case map[string]any:
		trades, ok := v["trades"].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: object payload must contain a \"trades\" array", ErrParsingFailed)
		}
		items = trades
	default:
		return nil, fmt.Errorf("%w: payload must be an array of trades", ErrParsingFailed)
	}

	rows := make([]models.RawTrade, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: trade %d is not an object", ErrParsingFailed, i)
		}
		rows = append(rows, models.RawTrade(obj))
	}
	return rows, nil
}
