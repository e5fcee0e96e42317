package guard

import "github.com/MarcoPoloResearchLab/wishtree/backend/internal/secrets"

// Verify reports whether attempt unlocks a wish protected by stored.
// An empty stored secret means the wish is unprotected.
func Verify(stored, attempt string) bool {
	if stored == "" {
		return true
	}
	if secrets.IsHashed(stored) {
		return secrets.Matches(stored, attempt)
	}
	equal, _ := compareSecrets(stored, attempt)
	return equal
}

// compareSecrets walks every rune position of the longer input, padding the
// shorter one with zero, so the amount of work depends only on the lengths.
// The second return value is the number of positions compared.
func compareSecrets(stored, attempt string) (bool, int) {
	left := []rune(stored)
	right := []rune(attempt)

	length := len(left)
	if len(right) > length {
		length = len(right)
	}

	var mismatch rune
	if len(left) != len(right) {
		mismatch = 1
	}

	compared := 0
	for index := 0; index < length; index++ {
		var leftRune, rightRune rune
		if index < len(left) {
			leftRune = left[index]
		}
		if index < len(right) {
			rightRune = right[index]
		}
		mismatch |= leftRune ^ rightRune
		compared++
	}

	return mismatch == 0, compared
}
