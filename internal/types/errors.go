package types

import "errors"

// Sentinel errors forming the service's failure taxonomy. Services return
// these (wrapped with context) instead of throwing; the HTTP layer maps each
// kind to a status code.
var ErrNotFound = errors.New("requested item not found")
var ErrConflict = errors.New("item already exists or conflict")
var ErrUnauthenticated = errors.New("authentication required or invalid credentials")
var ErrBadRequest = errors.New("invalid request")
var ErrInternal = errors.New("internal error")
