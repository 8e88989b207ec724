package adapters

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idproof/internal/docauth"
	id "idproof/pkg/domain"
)

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "********0100", maskPhone("+15555550100"))
	assert.Equal(t, "****", maskPhone("12"))
}

func TestLinkSender_LogsMaskedPhone(t *testing.T) {
	var buf bytes.Buffer
	s := NewLinkSender(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, s.SendLink(context.Background(), id.NewUserID(), "+15555550100", "https://idp.test/idv/hybrid/tok"))
	assert.Contains(t, buf.String(), "https://idp.test/idv/hybrid/tok")
	assert.NotContains(t, buf.String(), "+15555550100")
}

func TestContactVerifier(t *testing.T) {
	v := NewContactVerifier("123456", slog.New(slog.DiscardHandler))
	ok, err := v.Confirm(context.Background(), id.NewUserID(), "+15555550100", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Confirm(context.Background(), id.NewUserID(), "+15555550100", "654321")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = NewContactVerifier("", slog.New(slog.DiscardHandler)).Confirm(context.Background(), id.NewUserID(), "+1", "")
	assert.False(t, ok)
}

func TestIssuerAndEnroller(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	credentialID, err := NewCredentialIssuer(logger).Issue(context.Background(), id.NewUserID(), docauth.Fields{FirstName: "FAKEY"})
	require.NoError(t, err)
	assert.NotEmpty(t, credentialID)
	assert.NotContains(t, buf.String(), "FAKEY")

	code, err := NewInPersonEnroller(logger).Enroll(context.Background(), id.NewUserID(), id.NewFlowID())
	require.NoError(t, err)
	assert.Len(t, code, 16)
}
