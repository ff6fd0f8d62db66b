package processors

import "github.com/username/tradeingest/src/models"

// Normalizer turns heterogeneous input records into canonical trades.
type Normalizer interface {
	Normalize(raw models.RawTrade, source models.DataSource) models.NormalizeResult
}

var _ Normalizer = (*TradeNormalizer)(nil)
