package firebase

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlrepo "dealroom/internal/adapter/repository"
	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
)

type stubTokens map[string]string

func (s stubTokens) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	uid, ok := s[idToken]
	if !ok {
		return nil, stderrors.New("token signature is invalid")
	}
	return &auth.Token{UID: uid, Expires: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC).Unix()}, nil
}

func newUsers(t *testing.T) repository.UserRepository {
	t.Helper()
	db, err := sqlrepo.OpenSQLite(filepath.Join(t.TempDir(), "dealroom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := sqlrepo.NewSQLiteUserRepository(db)
	ctx := context.Background()
	require.NoError(t, users.Create(ctx, &entity.User{ID: "u-seller", Username: "sam", Role: entity.RoleSeller}))
	require.NoError(t, users.Create(ctx, &entity.User{ID: "u-admin", Username: "root", Role: entity.Role("admin")}))
	return users
}

func TestFirebaseVerify(t *testing.T) {
	client := NewFirebaseAuthClient(stubTokens{
		"good":    "u-seller",
		"ghost":   "u-missing",
		"no-role": "u-admin",
	}, newUsers(t))
	ctx := context.Background()

	session, err := client.Verify(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "u-seller", session.UserID)
	assert.Equal(t, entity.RoleSeller, session.Role)
	assert.True(t, session.ExpiresAt.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"empty token", "", errors.CodeUnauthenticated},
		{"bad signature", "forged", errors.CodeUnauthenticated},
		{"unknown user", "ghost", errors.CodeUnauthenticated},
		{"role outside the trade", "no-role", errors.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Verify(ctx, tt.token)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}
