// ABOUTME: Constant-time credential comparison.
// ABOUTME: Equal-length inputs are compared without short-circuiting.

package auth

// ConstantTimeEqual compares two strings in constant time with respect to
// their contents. Inputs of unequal length fail immediately; the lengths
// themselves are not treated as secret. Equal-length inputs are compared
// by XOR-accumulating every byte so the comparison never exits early on a
// mismatch.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var acc byte
	for i := 0; i < len(a); i++ {
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}
