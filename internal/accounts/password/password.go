// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

// Package password verifies and creates the password hashes found in the
// oskari user table. Each hash format is a Scheme recognized by its prefix
package password

import (
	"errors"
	"fmt"
)

var ErrUnknownScheme = errors.New("unknown password hash format")

// Scheme is one password hash format
type Scheme interface {
	// Tag names the scheme, e.g. pbkdf2-sha512
	Tag() string
	// Matches reports whether a stored hash uses this scheme
	Matches(stored string) bool
	Verify(password, stored string) (bool, error)
	Encode(password string) (string, error)
}

// schemes in the order stored hashes are matched against them
var registry = []Scheme{PBKDF2SHA512{}, Bcrypt{}, MD5{}}

// Lookup returns the scheme a stored hash was made with
func Lookup(stored string) (Scheme, bool) {
	for _, scheme := range registry {
		if scheme.Matches(stored) {
			return scheme, true
		}
	}
	return nil, false
}

// ByTag returns the scheme with the given tag
func ByTag(tag string) (Scheme, bool) {
	for _, scheme := range registry {
		if scheme.Tag() == tag {
			return scheme, true
		}
	}
	return nil, false
}

// Verify checks a password against a stored hash of any known scheme
func Verify(password, stored string) (bool, error) {
	scheme, ok := Lookup(stored)
	if !ok {
		return false, ErrUnknownScheme
	}
	return scheme.Verify(password, stored)
}

// Encode hashes a password with the named scheme
func Encode(tag, password string) (string, error) {
	scheme, ok := ByTag(tag)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownScheme, tag)
	}
	return scheme.Encode(password)
}

// ForStorage returns what should be stored for a password coming from ckan.
// Hashes in a known format are kept verbatim and anything else is treated as
// a plain password and hashed with bcrypt
func ForStorage(value string) (string, error) {
	if _, ok := Lookup(value); ok {
		return value, nil
	}
	return Encode(BcryptTag, value)
}
