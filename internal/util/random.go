// Package util provides utility functions shared across Almanac components.
package util

import (
	"math/rand"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand; the output is not suitable for cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// GenerateSubscriberID generates a unique subscriber ID with "s_" prefix.
func GenerateSubscriberID() string {
	return GenerateRandomID("s_", 32)
}

// GenerateSendRecordID generates a unique send record ID with "snd_" prefix.
func GenerateSendRecordID() string {
	return GenerateRandomID("snd_", 32)
}
