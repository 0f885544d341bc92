package confstore

import "errors"

// ErrNotFound is returned when a camera record does not exist.
var ErrNotFound = errors.New("confstore: camera not found")

// ErrDuplicateID is returned when creating a record whose identity key
// already exists.
var ErrDuplicateID = errors.New("confstore: camera already exists")
