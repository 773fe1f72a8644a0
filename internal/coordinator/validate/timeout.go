package validate

import "fmt"

// MinTimeoutSeconds and MaxTimeoutSeconds bound a long-poll wait's timeout
// parameter, per spec.md's boundary table (1 accepted, 0 rejected; 3600
// accepted, 3601 rejected).
const (
	MinTimeoutSeconds = 1
	MaxTimeoutSeconds = 3600
)

// Timeout rejects a wait timeout outside [MinTimeoutSeconds, MaxTimeoutSeconds].
func Timeout(seconds int) error {
	if seconds < MinTimeoutSeconds || seconds > MaxTimeoutSeconds {
		return fmt.Errorf("timeout must be between %d and %d seconds", MinTimeoutSeconds, MaxTimeoutSeconds)
	}
	return nil
}
