package transcript

import "fmt"

// FormatElapsed renders a run-wide time in milliseconds as "MM:SS /".
// Minutes are not wrapped at an hour; negative input renders as zero.
func FormatElapsed(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d /", ms/60000, (ms/1000)%60)
}
