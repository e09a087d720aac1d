package assembly

import "errors"

var (
	ErrMissingParts   = errors.New("assembly mapping has no usable parts")
	ErrUnknownFormat  = errors.New("unknown assembly mapping format")
	ErrDuplicatePart  = errors.New("duplicate part name")
	ErrEmptyPartEntry = errors.New("part entry requires name and mesh")
)
