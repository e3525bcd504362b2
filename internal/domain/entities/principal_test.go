package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAPIKey_Valid(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, (&APIKey{}).Valid(now), "no expiry, not revoked")
	assert.True(t, (&APIKey{ExpiresAt: &future}).Valid(now), "expiry in the future")
	assert.False(t, (&APIKey{ExpiresAt: &past}).Valid(now), "expiry in the past")
	assert.False(t, (&APIKey{Revoked: true}).Valid(now), "revoked")
}

func TestHumanUser_IsLocked(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.False(t, (&HumanUser{}).IsLocked(now), "no lockout set")
	assert.True(t, (&HumanUser{LockedUntil: &future}).IsLocked(now), "locked until the future")
	assert.False(t, (&HumanUser{LockedUntil: &past}).IsLocked(now), "lockout already expired")
}

func TestPrincipal_EffectiveRoleName(t *testing.T) {
	human := Principal{Kind: PrincipalHumanUser, User: &HumanUser{Role: CustomRole("editor")}}
	assert.Equal(t, "editor", human.EffectiveRoleName())

	key := Principal{Kind: PrincipalAPIKey, Key: &APIKey{UUID: "k1"}}
	assert.Equal(t, APIKeyRoleName, key.EffectiveRoleName())
	assert.False(t, key.IsSuper())
}
