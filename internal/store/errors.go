package store

import "errors"

// ErrSessionNotFound indicates the session does not exist or belongs to
// a different user.
var ErrSessionNotFound = errors.New("upload session not found")
