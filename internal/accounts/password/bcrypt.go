// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const BcryptTag = "bcrypt"

// Bcrypt is the format oskari itself uses for new passwords
type Bcrypt struct{}

func (Bcrypt) Tag() string {
	return BcryptTag
}

func (Bcrypt) Matches(stored string) bool {
	if len(stored) != 60 {
		return false
	}
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(stored, prefix) {
			return true
		}
	}
	return false
}

func (Bcrypt) Verify(password, stored string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (Bcrypt) Encode(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
