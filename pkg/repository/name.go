package repository

import (
	"strings"
	"unicode"
)

const MaxNameLength = 255

// ValidateName checks name can be stored as a single path segment.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &ErrNameInvalid{Name: name, Reason: "empty"}
	case name == "." || name == "..":
		return &ErrNameInvalid{Name: name, Reason: "reserved"}
	case len(name) > MaxNameLength:
		return &ErrNameInvalid{Name: name, Reason: "too long"}
	case strings.ContainsAny(name, "/\\"):
		return &ErrNameInvalid{Name: name, Reason: "contains path separator"}
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return &ErrNameInvalid{Name: name, Reason: "contains control character"}
	}
	return nil
}
