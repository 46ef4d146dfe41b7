package script

import "errors"

// ErrInvalid marks a malformed script definition. Validation failures wrap
// it so callers can match with errors.Is.
var ErrInvalid = errors.New("invalid script definition")
