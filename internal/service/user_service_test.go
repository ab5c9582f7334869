package service

import (
	"context"
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserService(t *testing.T) (*UserService, *auth.TokenManager) {
	t.Helper()
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	return NewUserService(memstore.New(), tokens), tokens
}

func strPtr(s string) *string { return &s }

func TestRegisterAndLogin(t *testing.T) {
	svc, tokens := newUserService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, &RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.Positive(t, id)

	token, err := svc.Login(ctx, &LoginRequest{Email: "ANA@example.com", Password: "hunter22"})
	require.NoError(t, err)

	userID, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, id, userID)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, &RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "hunter22"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, &RegisterRequest{Name: "Other", Email: "Ana@Example.com", Password: "hunter33"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 409, apperr.HTTPStatus(err))
}

func TestLogin_Rejected(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, &RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "hunter22"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, &LoginRequest{Email: "ana@example.com", Password: "wrong-pass"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = svc.Login(ctx, &LoginRequest{Email: "nobody@example.com", Password: "hunter22"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestGetUser(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()
	id, err := svc.Register(ctx, &RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "hunter22"})
	require.NoError(t, err)

	profile, err := svc.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, &UserProfile{ID: id, Name: "Ana", Email: "ana@example.com"}, profile)

	_, err = svc.GetUser(ctx, id+100)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestEditUser(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()
	id, err := svc.Register(ctx, &RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "hunter22"})
	require.NoError(t, err)
	other, err := svc.Register(ctx, &RegisterRequest{Name: "Bo", Email: "bo@example.com", Password: "hunter22"})
	require.NoError(t, err)

	profile, err := svc.EditUser(ctx, id, id, &EditUserRequest{Name: strPtr("Ana Maria"), Password: strPtr("new-password")})
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", profile.Name)
	assert.Equal(t, "ana@example.com", profile.Email)

	_, err = svc.Login(ctx, &LoginRequest{Email: "ana@example.com", Password: "new-password"})
	require.NoError(t, err)

	_, err = svc.EditUser(ctx, other, id, &EditUserRequest{Name: strPtr("hijack")})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = svc.EditUser(ctx, id, id, &EditUserRequest{Email: strPtr("bo@example.com")})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = svc.EditUser(ctx, id, id, &EditUserRequest{Name: strPtr("  ")})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDeleteUser(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()
	id, err := svc.Register(ctx, &RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "hunter22"})
	require.NoError(t, err)

	err = svc.DeleteUser(ctx, id+1, id)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	require.NoError(t, svc.DeleteUser(ctx, id, id))

	err = svc.DeleteUser(ctx, id, id)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
