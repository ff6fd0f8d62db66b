package parsers

import (
	"errors"
	"io"

	"github.com/username/tradeingest/src/models"
)

var ErrParsingFailed = errors.New("failed to parse trade rows")

// Parser turns an uploaded payload into loosely keyed trade rows. Field
// names are left as delivered; the normalizer resolves them.
type Parser interface {
	Parse(file io.Reader) ([]models.RawTrade, error)
}
