// internal/logging/redact.go
package logging

import (
	"strconv"

	"go.uber.org/zap"
)

// RedactedString creates a Zap field with redacted value and length.
// Stored blobs and cookie values are logged this way.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}
