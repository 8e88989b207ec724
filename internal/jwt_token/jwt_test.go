package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
)

var jwtService = NewJWTService(
	"test-signing-key",
	"test-issuer",
	"test-audience",
)

func Test_GenerateAccessToken(t *testing.T) {
	userID := id.NewUserID()
	now := time.Now()

	token, err := jwtService.GenerateAccessToken(userID, now, time.Hour)
	require.NoError(t, err)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, ScopeAccess, claims.Scope)
	assert.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(id.NewUserID(), time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, "token has expired", dErrors.MessageOf(err))
}

func Test_ValidateToken_WrongKey(t *testing.T) {
	other := NewJWTService("other-key", "test-issuer", "test-audience")
	token, err := other.GenerateAccessToken(id.NewUserID(), time.Now(), time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_HandoffToken(t *testing.T) {
	userID := id.NewUserID()
	flowID := id.NewFlowID()

	link, err := jwtService.GenerateHandoffToken(userID, flowID, time.Now(), 15*time.Minute)
	require.NoError(t, err)

	claims, err := jwtService.ValidateHandoffToken(link, time.Now())
	require.NoError(t, err)
	assert.Equal(t, flowID.String(), claims.FlowID)

	_, err = NewAccessValidator(jwtService).ValidateToken(link)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized), "link tokens must not authenticate requests")

	access, err := jwtService.GenerateAccessToken(userID, time.Now(), time.Hour)
	require.NoError(t, err)
	_, err = jwtService.ValidateHandoffToken(access, time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	mw, err := NewAccessValidator(jwtService).ValidateToken(access)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), mw.UserID)
}

func Test_ValidateTokenAt_UsesGivenClock(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	link, err := jwtService.GenerateHandoffToken(id.NewUserID(), id.NewFlowID(), issued, 15*time.Minute)
	require.NoError(t, err)

	_, err = jwtService.ValidateHandoffToken(link, issued.Add(10*time.Minute))
	require.NoError(t, err)

	_, err = jwtService.ValidateHandoffToken(link, issued.Add(16*time.Minute))
	require.Error(t, err)
	assert.Equal(t, "token has expired", dErrors.MessageOf(err))
}
