package wire

import "crypto/subtle"

// TokensEqual compares two handshake tokens in constant time, so a
// daemon's HELLO handling does not leak timing information about how
// many leading bytes of the token an attacker guessed correctly.
func TokensEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
