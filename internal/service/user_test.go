package service

import (
	"strings"
	"testing"
	"unicode"

	"github.com/pydea-rs/tayadex-backend/internal/repository"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUserRegistersChecksummedAddress(t *testing.T) {
	db := setupTestDB(t)
	svc := NewUserService(repository.NewUserRepository(db), true)
	lower := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

	user, err := svc.ResolveUser(t.Context(), lower)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", user.Address)
	assert.Len(t, user.ReferralCode, 8)
	assert.True(t, unicode.IsLetter(rune(user.ReferralCode[0])))

	again, err := svc.ResolveUser(t.Context(), strings.ToUpper(lower[2:]))
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
}

func TestResolveUserWithoutAutoRegister(t *testing.T) {
	db := setupTestDB(t)
	svc := NewUserService(repository.NewUserRepository(db), false)

	user, err := svc.ResolveUser(t.Context(), "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestResolveUserRejectsInvalidAddress(t *testing.T) {
	db := setupTestDB(t)
	svc := NewUserService(repository.NewUserRepository(db), true)

	_, err := svc.ResolveUser(t.Context(), "not-an-address")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrUserResolve))
}

func TestRandomCodeShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := randomCode()
		require.Len(t, code, referralCodeLength)
		assert.True(t, strings.ContainsRune(codeLetters, rune(code[0])))
		for _, c := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, c))
		}
	}
}
