package validation

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"receiptsync/internal/constants"
	"receiptsync/internal/errors"
	"receiptsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name        string
		address     string
		expectError bool
	}{
		{name: "valid e164", address: "+15550001234"},
		{name: "valid international", address: "+447911123456"},
		{name: "valid service uuid", address: "4f2a9b1c-0d3e-4a5b-8c7d-1e2f3a4bc3d9"},
		{name: "empty", address: "", expectError: true},
		{name: "plus only", address: "+", expectError: true},
		{name: "too short", address: "+123", expectError: true},
		{name: "too long", address: "+1234567890123456", expectError: true},
		{name: "letters in number", address: "+1555000123a", expectError: true},
		{name: "bare digits", address: "15550001234", expectError: true},
		{name: "garbage", address: "not-an-address", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if tt.expectError {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		ts      uint64
		wantErr string
	}{
		{"one", 1, ""},
		{"largest storable", math.MaxInt64, ""},
		{"zero", 0, "read timestamp must be non-zero"},
		{"high bit set", 1 << 63, "read timestamp out of range"},
		{"max uint64", math.MaxUint64, "read timestamp out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTimestamp(tt.ts, "read timestamp")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
		})
	}
}

func TestValidateLinkedDeviceBatch(t *testing.T) {
	tests := []struct {
		name        string
		batch       models.LinkedDeviceBatch
		expectError bool
	}{
		{
			name: "valid batch",
			batch: models.LinkedDeviceBatch{
				Entries: []models.LinkedDeviceReadEntry{
					{SenderAddress: "+15550001234", MessageIDTimestamp: 1000},
					{SenderAddress: "+15550005678", MessageIDTimestamp: 2000},
				},
				ReadTimestamp: 3000,
			},
		},
		{
			name:  "empty batch is valid",
			batch: models.LinkedDeviceBatch{ReadTimestamp: 3000},
		},
		{
			name: "zero read timestamp",
			batch: models.LinkedDeviceBatch{
				Entries: []models.LinkedDeviceReadEntry{{SenderAddress: "+15550001234", MessageIDTimestamp: 1000}},
			},
			expectError: true,
		},
		{
			name: "empty sender",
			batch: models.LinkedDeviceBatch{
				Entries:       []models.LinkedDeviceReadEntry{{MessageIDTimestamp: 1000}},
				ReadTimestamp: 3000,
			},
			expectError: true,
		},
		{
			name: "zero message timestamp",
			batch: models.LinkedDeviceBatch{
				Entries:       []models.LinkedDeviceReadEntry{{SenderAddress: "+15550001234"}},
				ReadTimestamp: 3000,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLinkedDeviceBatch(tt.batch)
			if tt.expectError {
				assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateLinkedDeviceBatch_IndexContext(t *testing.T) {
	batch := models.LinkedDeviceBatch{
		Entries: []models.LinkedDeviceReadEntry{
			{SenderAddress: "+15550001234", MessageIDTimestamp: 1000},
			{SenderAddress: "+15550001234", MessageIDTimestamp: 0},
		},
		ReadTimestamp: 3000,
	}

	err := ValidateLinkedDeviceBatch(batch)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, 1, appErr.Context["index"])
}

func TestValidateLinkedDeviceBatch_TooLarge(t *testing.T) {
	entries := make([]models.LinkedDeviceReadEntry, constants.DefaultMaxReceiptsPerBatch+1)
	for i := range entries {
		entries[i] = models.LinkedDeviceReadEntry{SenderAddress: "+15550001234", MessageIDTimestamp: uint64(i + 1)}
	}

	err := ValidateLinkedDeviceBatch(models.LinkedDeviceBatch{Entries: entries, ReadTimestamp: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch too large")
}

func TestValidateRecipientBatch(t *testing.T) {
	valid := models.RecipientBatch{SenderAddress: "+15550001234", SentTimestamps: []uint64{1, 2}, ReadTimestamp: 5}
	assert.NoError(t, ValidateRecipientBatch(valid))

	noSender := valid
	noSender.SenderAddress = ""
	assert.Error(t, ValidateRecipientBatch(noSender))

	zeroRead := valid
	zeroRead.ReadTimestamp = 0
	assert.Error(t, ValidateRecipientBatch(zeroRead))

	zeroSent := valid
	zeroSent.SentTimestamps = []uint64{1, 0}
	assert.Error(t, ValidateRecipientBatch(zeroSent))
}

func TestValidateReadSyncWire(t *testing.T) {
	assert.NoError(t, ValidateReadSyncWire(models.ReadSyncWire{
		Senders:    []string{"+15550001234"},
		Timestamps: []uint64{10},
	}))

	err := ValidateReadSyncWire(models.ReadSyncWire{
		Senders:    []string{"+15550001234", "+15550005678"},
		Timestamps: []uint64{10},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 senders but 1 timestamps")
}

func TestValidateCircumstance(t *testing.T) {
	assert.NoError(t, ValidateCircumstance(models.ReadOnThisDevice))
	assert.NoError(t, ValidateCircumstance(models.ReadOnLinkedDeviceWhilePendingMessageRequest))
	assert.Error(t, ValidateCircumstance(models.ReadCircumstance(42)))
	assert.Error(t, ValidateCircumstance(models.ReadCircumstance(-1)))
}

func TestValidateHTTPRequestSize(t *testing.T) {
	small := httptest.NewRequest("POST", "/v1/receipts/recipient", strings.NewReader("{}"))
	assert.NoError(t, ValidateHTTPRequestSize(small, 1024))

	large := httptest.NewRequest("POST", "/v1/receipts/recipient", strings.NewReader(strings.Repeat("x", 2048)))
	assert.Error(t, ValidateHTTPRequestSize(large, 1024))

	unknown := httptest.NewRequest("POST", "/v1/receipts/recipient", nil)
	unknown.ContentLength = -1
	assert.Error(t, ValidateHTTPRequestSize(unknown, 1024))
}

func TestValidateRetentionDays(t *testing.T) {
	assert.NoError(t, ValidateRetentionDays(30))
	assert.Error(t, ValidateRetentionDays(0))
	assert.Error(t, ValidateRetentionDays(4000))
}
