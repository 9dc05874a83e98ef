package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(NewMemoryUserRepo(), NewTokenIssuer("test-secret", time.Hour))
}

func TestSignupAndLogin(t *testing.T) {
	a := newTestAuthenticator()

	user, err := a.Signup("Alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEqual(t, "secret", user.PasswordHash)

	got, token, err := a.Login("ALICE", "secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, 2, strings.Count(token, "."), "формат JWT")

	verified, claims, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.ID)
	assert.False(t, claims.IsAdmin())
}

func TestSignupRejectsDuplicatesAndBadInput(t *testing.T) {
	a := newTestAuthenticator()
	_, err := a.Signup("bob", "pw1")
	require.NoError(t, err)

	for name, creds := range map[string][2]string{
		"занятое имя":     {"BOB", "other"},
		"короткое имя":    {"b", "pw1"},
		"пробел в имени":  {"bo b", "pw1"},
		"короткий пароль": {"carol", "x"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Signup(creds[0], creds[1])
			require.Error(t, err)
			assert.True(t, gameerr.Is(err, gameerr.AuthFailure))
			assert.Equal(t, MsgSignupFailed, gameerr.Message(err))
		})
	}
}

func TestLoginFailures(t *testing.T) {
	a := newTestAuthenticator()
	_, err := a.Signup("dave", "right")
	require.NoError(t, err)

	_, _, err = a.Login("dave", "wrong")
	assert.True(t, gameerr.Is(err, gameerr.AuthFailure))
	assert.Equal(t, MsgInvalidCredentials, gameerr.Message(err))

	_, _, err = a.Login("nobody", "right")
	assert.Equal(t, MsgInvalidCredentials, gameerr.Message(err), "несуществующий пользователь неотличим от неверного пароля")
}

func TestTokenRejectsForeignSecret(t *testing.T) {
	a := newTestAuthenticator()
	user, err := a.Signup("erin", "pw123")
	require.NoError(t, err)

	other := NewTokenIssuer("another-secret", time.Hour)
	token, _, err := other.Issue(user)
	require.NoError(t, err)

	_, _, err = a.Verify(token)
	assert.True(t, gameerr.Is(err, gameerr.AuthFailure))

	_, _, err = a.Verify("garbage")
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer("s", time.Millisecond)
	token, _, err := issuer.Issue(&User{ID: 1, Username: "x"})
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	_, err = issuer.Parse(token)
	assert.Error(t, err)
}

func TestProfileRoundTrip(t *testing.T) {
	repo := NewMemoryUserRepo()
	_, err := repo.CreateUser("frank", "hash", false)
	require.NoError(t, err)

	p := Profile{
		Inventory: inventory.Inventory{{ToolID: "wood", Quantity: 3}},
		Health:    150,
		X:         1,
		Y:         2,
		Z:         3,
		Kills:     4,
		Deaths:    1,
		Model:     "Ninja",
		Revision:  3,
	}
	require.NoError(t, repo.SaveProfile("Frank", p))

	got, err := repo.LoadProfile("frank")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	got.Inventory[0].Quantity = 99
	again, err := repo.LoadProfile("frank")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Inventory[0].Quantity, "возвращается копия")

	assert.ErrorIs(t, repo.SaveProfile("ghost", p), ErrUserNotFound)
	_, err = repo.LoadProfile("ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestEnsureAdmin(t *testing.T) {
	a := newTestAuthenticator()
	require.NoError(t, a.EnsureAdmin("root", "toor"))
	require.NoError(t, a.EnsureAdmin("root", "ignored"), "повторный вызов ничего не меняет")

	user, token, err := a.Login("root", "toor")
	require.NoError(t, err)
	assert.True(t, user.IsAdmin)

	_, claims, err := a.Verify(token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())

	assert.NoError(t, a.EnsureAdmin("", ""))
}
