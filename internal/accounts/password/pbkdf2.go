// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package password

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const PBKDF2Tag = "pbkdf2-sha512"

// parameters for new hashes; verification uses whatever the stored hash says
const (
	pbkdf2Iterations = 25000
	pbkdf2SaltBytes  = 16
	pbkdf2KeyBytes   = 24
)

// PBKDF2SHA512 is the passlib format ckan stores:
// $pbkdf2-sha512$<iterations>$<salt>$<key> with salt and key in adapted base64
type PBKDF2SHA512 struct{}

func (PBKDF2SHA512) Tag() string {
	return PBKDF2Tag
}

func (PBKDF2SHA512) Matches(stored string) bool {
	return strings.HasPrefix(stored, "$"+PBKDF2Tag+"$")
}

func (PBKDF2SHA512) Verify(password, stored string) (bool, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 5 {
		return false, fmt.Errorf("malformed %s hash", PBKDF2Tag)
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return false, fmt.Errorf("malformed %s iteration count %q", PBKDF2Tag, parts[2])
	}
	salt, err := ab64Decode(parts[3])
	if err != nil {
		return false, fmt.Errorf("malformed %s salt: %w", PBKDF2Tag, err)
	}
	expected, err := ab64Decode(parts[4])
	if err != nil {
		return false, fmt.Errorf("malformed %s key: %w", PBKDF2Tag, err)
	}
	actual := pbkdf2.Key([]byte(password), salt, iterations, len(expected), sha512.New)
	return subtle.ConstantTimeCompare(expected, actual) == 1, nil
}

func (PBKDF2SHA512) Encode(password string) (string, error) {
	salt := make([]byte, pbkdf2SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return encodePBKDF2(password, salt, pbkdf2Iterations), nil
}

func encodePBKDF2(password string, salt []byte, iterations int) string {
	key := pbkdf2.Key([]byte(password), salt, iterations, pbkdf2KeyBytes, sha512.New)
	return fmt.Sprintf("$%s$%d$%s$%s", PBKDF2Tag, iterations, ab64Encode(salt), ab64Encode(key))
}

// passlib's adapted base64 uses '.' instead of '+' and drops padding
func ab64Encode(data []byte) string {
	return strings.ReplaceAll(base64.RawStdEncoding.EncodeToString(data), "+", ".")
}

func ab64Decode(value string) ([]byte, error) {
	value = strings.TrimRight(strings.ReplaceAll(value, ".", "+"), "=")
	return base64.RawStdEncoding.DecodeString(value)
}
