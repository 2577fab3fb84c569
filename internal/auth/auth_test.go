package auth_test

import (
	"testing"
	"time"

	"omni/live/internal/auth"
	"omni/live/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestIssueAndVerify(t *testing.T) {
	id := auth.Identity{Subject: "w-42", Name: "Ravi", Role: models.RoleWorker}

	token, err := auth.Issue(secret, id, time.Hour, time.Now())
	require.NoError(t, err)

	got, err := auth.Verify(secret, token)
	require.NoError(t, err)
	assert.Equal(t, id, *got)
}

func TestVerifyRejectsWrongSecretAndExpiry(t *testing.T) {
	id := auth.Identity{Subject: "c-1", Name: "Asha", Role: models.RoleCustomer}

	token, err := auth.Issue(secret, id, time.Hour, time.Now())
	require.NoError(t, err)
	_, err = auth.Verify([]byte("other"), token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	expired, err := auth.Issue(secret, id, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = auth.Verify(secret, expired)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = auth.Verify(secret, "")
	assert.ErrorIs(t, err, auth.ErrMissingToken)
}

func TestInspectReadsUnverifiedClaims(t *testing.T) {
	token, err := auth.Issue(secret, auth.Identity{Subject: "c-1", Name: "Asha", Role: models.RoleCustomer}, time.Hour, time.Now())
	require.NoError(t, err)

	got, err := auth.Inspect(token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCustomer, got.Role)
	assert.Equal(t, "Asha", got.Name)

	_, err = auth.Inspect("not-a-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestIssueRequiresRole(t *testing.T) {
	_, err := auth.Issue(secret, auth.Identity{Subject: "x"}, time.Hour, time.Now())
	assert.ErrorIs(t, err, auth.ErrInvalidRole)
}
