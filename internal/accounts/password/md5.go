// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package password

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const MD5Tag = "md5"

const md5Prefix = "MD5:"

// MD5 is the legacy oskari format; it is only kept so old accounts can still log in
type MD5 struct{}

func (MD5) Tag() string {
	return MD5Tag
}

func (MD5) Matches(stored string) bool {
	return strings.HasPrefix(stored, md5Prefix)
}

func (MD5) Verify(password, stored string) (bool, error) {
	expected, _ := MD5{}.Encode(password)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(stored[len(md5Prefix):])), []byte(expected[len(md5Prefix):])) == 1, nil
}

func (MD5) Encode(password string) (string, error) {
	sum := md5.Sum([]byte(password))
	return md5Prefix + hex.EncodeToString(sum[:]), nil
}
