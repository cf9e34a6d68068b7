package transformer

import "math"

// EstimateTokens approximates a token count: one per CJK ideograph plus one per
// four latin letters, rounded up.
func EstimateTokens(text string) int64 {
	var cjk, latin int64
	for _, r := range text {
		switch {
		case r >= 0x4e00 && r <= 0x9fa5:
			cjk++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		}
	}
	return cjk + int64(math.Ceil(float64(latin)*0.25))
}
