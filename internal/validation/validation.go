package validation

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"unicode"

	"receiptsync/internal/constants"
	"receiptsync/internal/errors"
	"receiptsync/internal/models"

	"github.com/google/uuid"
)

const (
	minPhoneDigits = 6
	maxPhoneDigits = 15
)

// ValidateAddress accepts an E.164 phone number ("+" followed by digits) or a
// service UUID.
func ValidateAddress(address string) error {
	if address == "" {
		return errors.New(errors.ErrCodeInvalidInput, "sender address cannot be empty")
	}

	if strings.HasPrefix(address, "+") {
		digits := address[1:]
		if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("phone address must have %d to %d digits", minPhoneDigits, maxPhoneDigits))
		}
		for _, char := range digits {
			if !unicode.IsDigit(char) {
				return errors.New(errors.ErrCodeInvalidInput, "phone address must contain only digits")
			}
		}
		return nil
	}

	if _, err := uuid.Parse(address); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "address is neither a phone number nor a service id")
	}

	return nil
}

// ValidateTimestamp rejects zero timestamps and values storage cannot hold
// as a signed 64-bit integer.
func ValidateTimestamp(ts uint64, fieldName string) error {
	if ts == 0 {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s must be non-zero", fieldName))
	}
	if ts > math.MaxInt64 {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s out of range (max %d)", fieldName, int64(math.MaxInt64)))
	}
	return nil
}

// ValidateLinkedDeviceBatch checks every entry of a linked device batch
func ValidateLinkedDeviceBatch(batch models.LinkedDeviceBatch) error {
	if err := ValidateTimestamp(batch.ReadTimestamp, "read timestamp"); err != nil {
		return err
	}
	if len(batch.Entries) > constants.DefaultMaxReceiptsPerBatch {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("batch too large (max %d entries)", constants.DefaultMaxReceiptsPerBatch))
	}

	for i, entry := range batch.Entries {
		if err := ValidateAddress(entry.SenderAddress); err != nil {
			return withIndex(err, i)
		}
		if err := ValidateTimestamp(entry.MessageIDTimestamp, "message timestamp"); err != nil {
			return withIndex(err, i)
		}
	}

	return nil
}

// ValidateRecipientBatch checks a batch of receipts from one recipient
func ValidateRecipientBatch(batch models.RecipientBatch) error {
	if err := ValidateAddress(batch.SenderAddress); err != nil {
		return err
	}
	if err := ValidateTimestamp(batch.ReadTimestamp, "read timestamp"); err != nil {
		return err
	}
	if len(batch.SentTimestamps) > constants.DefaultMaxReceiptsPerBatch {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("batch too large (max %d entries)", constants.DefaultMaxReceiptsPerBatch))
	}

	for i, ts := range batch.SentTimestamps {
		if err := ValidateTimestamp(ts, "sent timestamp"); err != nil {
			return withIndex(err, i)
		}
	}

	return nil
}

// ValidateReadSyncWire checks that the parallel sender and timestamp arrays line up
func ValidateReadSyncWire(wire models.ReadSyncWire) error {
	if len(wire.Senders) != len(wire.Timestamps) {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("read sync has %d senders but %d timestamps", len(wire.Senders), len(wire.Timestamps)))
	}
	return nil
}

// ValidateCircumstance rejects values outside the known set
func ValidateCircumstance(c models.ReadCircumstance) error {
	if !c.Valid() {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown read circumstance %d", int(c)))
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}

	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days must be at least 1")
	}

	if days > 3650 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}

func withIndex(err error, index int) error {
	if appErr, ok := errors.As(err); ok {
		return appErr.WithContext("index", index)
	}
	return err
}
