package models

// RawTrade is one incoming record before normalization: a JSON request body,
// a parsed spreadsheet row or a connector payload, keyed by source-specific
// field names.
type RawTrade map[string]any

// ValidationCode classifies why a field was rejected.
type ValidationCode string

const (
	CodeMissingField      ValidationCode = "missing_field"
	CodeInvalidNumber     ValidationCode = "invalid_number"
	CodeNonPositive       ValidationCode = "non_positive"
	CodeInvalidTimestamp  ValidationCode = "invalid_timestamp"
	CodeExitNotAfterEntry ValidationCode = "exit_not_after_entry"
	CodeInvalidDirection  ValidationCode = "invalid_direction"
	CodeInvalidInstrument ValidationCode = "invalid_instrument"
	CodeInvalidSource     ValidationCode = "invalid_source"
)

// ValidationError is a field-level rejection of a single input record.
type ValidationError struct {
	Field   string         `json:"field"`
	Code    ValidationCode `json:"code"`
	Message string         `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NormalizeResult carries either a canonical trade or the reasons the input
// could not become one.
type NormalizeResult struct {
	Trade  *CanonicalTrade
	Errors []ValidationError
}

func (r NormalizeResult) OK() bool {
	return r.Trade != nil && len(r.Errors) == 0
}
