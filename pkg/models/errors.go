package models

import "errors"

// Error kinds shared by every layer of the engine. Callers wrap them with
// context via fmt.Errorf("...: %w", ErrX) and match with errors.Is.
var (
	// ErrNotFound: unresolvable identifier, absent score record or unknown graph center.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput: out-of-domain model output, bad depth, malformed batch row.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable: the dataset has not been loaded (or failed to load).
	ErrUnavailable = errors.New("dataset unavailable")
)

// ErrorKind returns the stable wire name for err's kind.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
