package validate

import "fmt"

// MaxBodyBytes is the maximum size, in bytes, of a message body or context
// blob.
const MaxBodyBytes = 50 * 1024

// BodySize rejects a message body/context that exceeds MaxBodyBytes.
func BodySize(field string, value string) error {
	if len(value) > MaxBodyBytes {
		return fmt.Errorf("%s exceeds maximum size of %d bytes", field, MaxBodyBytes)
	}
	return nil
}

