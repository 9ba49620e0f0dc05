package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssignmentMode(t *testing.T) {
	assert.True(t, AssignmentUser.Valid())
	assert.True(t, AssignmentTeam.Valid())
	assert.True(t, AssignmentUnlimited.Valid())
	assert.False(t, AssignmentMode("everyone").Valid())
	assert.False(t, AssignmentMode("").Valid())

	assert.True(t, AssignmentUser.SingleInstancePerOwner())
	assert.True(t, AssignmentTeam.SingleInstancePerOwner())
	assert.False(t, AssignmentUnlimited.SingleInstancePerOwner())
}

func TestOwnerKey(t *testing.T) {
	assert.Equal(t, "user:alice", UserOwner("alice").Key())
	assert.Equal(t, "team:red", TeamOwner("red").Key())

	// A user and a team sharing an id never collide
	assert.NotEqual(t, UserOwner("7").Key(), TeamOwner("7").Key())

	assert.True(t, Owner{}.IsZero())
	assert.False(t, UserOwner("alice").IsZero())
}

func TestInstanceExpired(t *testing.T) {
	inst := &Instance{ExpiresAt: 1000}

	assert.False(t, inst.Expired(time.Unix(999, 0)))
	assert.True(t, inst.Expired(time.Unix(1000, 0)))
	assert.True(t, inst.Expired(time.Unix(1001, 0)))
}
