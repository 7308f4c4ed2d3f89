package llm

// CountTokens returns an approximate token count for the given text.
// The estimate is max(1, len/4), identical across providers so that history
// budgeting stays provider-agnostic.
func CountTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// ImageTokenEstimate is the flat per-image token cost used when sizing a
// multimodal user message.
const ImageTokenEstimate = 512
