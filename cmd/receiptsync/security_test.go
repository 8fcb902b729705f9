package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"receiptsync/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	const secret = "s3cret"
	body := `{"sender":"+15550002222","sentTimestamps":[1],"readTimestamp":2}`

	tests := []struct {
		name    string
		secret  string
		header  string
		wantErr string
	}{
		{name: "no secret configured", secret: "", header: ""},
		{name: "valid", secret: secret, header: sign(secret, []byte(body))},
		{name: "missing header", secret: secret, wantErr: "missing signature header"},
		{name: "no scheme", secret: secret, header: "deadbeef", wantErr: "invalid signature format"},
		{name: "other scheme", secret: secret, header: "sha1=deadbeef", wantErr: "invalid signature format"},
		{name: "upper case scheme", secret: secret, header: "SHA256=" + strings.TrimPrefix(sign(secret, []byte(body)), "sha256=")},
		{name: "tampered", secret: secret, header: sign(secret, []byte(body+" ")), wantErr: "signature mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/receipts/recipient", strings.NewReader(body))
			if tt.header != "" {
				req.Header.Set(constants.IngestSignatureHeader, tt.header)
			}

			err := verifySignature(req, tt.secret)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestVerifySignature_RestoresBody(t *testing.T) {
	const secret = "s3cret"
	body := `{"readReceiptsEnabled":true}`
	req := httptest.NewRequest(http.MethodPut, "/v1/settings/read-receipts", strings.NewReader(body))
	req.Header.Set(constants.IngestSignatureHeader, sign(secret, []byte(body)))

	require.NoError(t, verifySignature(req, secret))

	got, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestVerifySignature_ProductionRequiresSecret(t *testing.T) {
	t.Setenv(constants.EnvironmentEnv, "production")
	req := httptest.NewRequest(http.MethodPost, "/v1/threads/t1/accept", http.NoBody)

	err := verifySignature(req, "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "required in production")
}
