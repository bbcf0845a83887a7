package memory

import (
	"context"
	"testing"

	"github.com/cyp0633/libdav/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New(WithCost(bcrypt.MinCost))

	require.NoError(t, s.AddUser("alice", "secret"))
	assert.Error(t, s.AddUser("alice", "other"))

	p, err := s.Authenticate(ctx, auth.Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)

	_, err = s.Authenticate(ctx, auth.Credentials{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, auth.Credentials{Username: "bob", Password: "secret"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	// passwords are never stored in clear text
	assert.NotContains(t, string(s.users["alice"].Hash), "secret")
}

func TestAddHashedUser(t *testing.T) {
	s := New()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	require.NoError(t, s.AddHashedUser("carol", string(hash)))
	assert.Error(t, s.AddHashedUser("dave", "plain"))

	p, err := s.Authenticate(context.Background(), auth.Credentials{Username: "carol", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "carol", p.ID)
}
