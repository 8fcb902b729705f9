package privacy

import (
	"strings"

	"receiptsync/internal/constants"
)

// MaskAddress masks a participant address for logging.
// Phone addresses keep the "+" and the last digits: "+15550001234" -> "+*******1234".
// Service UUIDs keep their dashes and the last digits of the final group.
func MaskAddress(address string) string {
	if address == "" {
		return ""
	}

	if strings.HasPrefix(address, "+") {
		digits := address[1:]
		return "+" + maskString(digits, constants.DefaultAddressMaskLength)
	}

	if strings.Count(address, "-") == 4 {
		parts := strings.Split(address, "-")
		last := parts[len(parts)-1]
		for i := 0; i < len(parts)-1; i++ {
			parts[i] = strings.Repeat("*", len(parts[i]))
		}
		parts[len(parts)-1] = maskString(last, constants.DefaultAddressMaskLength)
		return strings.Join(parts, "-")
	}

	return maskString(address, constants.DefaultAddressMaskLength)
}

// MaskToken hides a credential entirely
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	return "[REDACTED]"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}

		switch k {
		case "sender", "sender_address", "address", "recipient", "recipient_address":
			masked[k] = MaskAddress(s)
		case "token", "auth_token", "secret":
			masked[k] = MaskToken(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
