// SPDX-License-Identifier: GPL-3.0-or-later

package sortinghat

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// GenerateUUID computes the identifier SortingHat assigns to an identity:
// the SHA1 of "source:email:name:username" with empty fields rendered as
// "None". Adding an identity that already exists fails with the existing
// record untouched, so the importer recomputes the identifier locally to
// keep updating the individual's profile and enrollments.
func GenerateUUID(source, name, email, username string) string {
	parts := []string{source, orNone(email), orNone(name), orNone(username)}
	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
