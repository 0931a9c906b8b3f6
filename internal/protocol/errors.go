package protocol

const (
	// Request shape/decoding.
	ErrBadRequest = "E_BAD_REQUEST"

	// Lookups.
	ErrNotFound     = "E_NOT_FOUND"
	ErrNoPending    = "E_NO_PENDING"
	ErrUnknownState = "E_UNKNOWN_STATE"
	ErrBadRotation  = "E_BAD_ROTATION"
	ErrBadCategory  = "E_BAD_CATEGORY"
	ErrFormat       = "E_FORMAT"
	ErrLimit        = "E_LIMIT"
	ErrConflict     = "E_CONFLICT"
	ErrUnavailable  = "E_UNAVAILABLE"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:   {},
	ErrNotFound:     {},
	ErrNoPending:    {},
	ErrUnknownState: {},
	ErrBadRotation:  {},
	ErrBadCategory:  {},
	ErrFormat:       {},
	ErrLimit:        {},
	ErrConflict:     {},
	ErrUnavailable:  {},
	ErrInternal:     {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
