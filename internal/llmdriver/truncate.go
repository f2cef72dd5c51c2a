package llmdriver

import "fmt"

// TruncateForLog caps s to maxChars, appending a "…[truncated N chars]"
// marker describing how much was cut. maxChars <= 0 disables truncation.
func TruncateForLog(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	cut := len(s) - maxChars
	return fmt.Sprintf("%s…[truncated %d chars]", s[:maxChars], cut)
}
