package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/auth"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/storage"
)

func TestAccountService_CreateAccount(t *testing.T) {
	store := storage.NewMemoryAccountStore()
	service := NewAccountService(store)

	t.Run("successful creation", func(t *testing.T) {
		accountID, err := service.CreateAccount("asha", "testpassword", "+919876543210")
		require.NoError(t, err)
		assert.NotEmpty(t, accountID)

		account, err := service.GetAccount(accountID)
		require.NoError(t, err)
		assert.Equal(t, accountID, account.ID)
		assert.Equal(t, "asha", account.Username)
		assert.Equal(t, "+919876543210", account.Phone)
		assert.NotEmpty(t, account.APIToken)
		assert.False(t, account.CreatedAt.IsZero())

		// Password is stored hashed, never plain
		assert.NotEqual(t, "testpassword", account.PasswordHash)
		err = bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("testpassword"))
		assert.NoError(t, err)
	})

	t.Run("phone is optional", func(t *testing.T) {
		accountID, err := service.CreateAccount("noshphone", "password", "")
		require.NoError(t, err)

		account, err := service.GetAccount(accountID)
		require.NoError(t, err)
		assert.Empty(t, account.Phone)
	})

	t.Run("empty username", func(t *testing.T) {
		accountID, err := service.CreateAccount("", "password", "")
		assert.Error(t, err)
		assert.Empty(t, accountID)
		assert.Contains(t, err.Error(), "username and password are required")
	})

	t.Run("empty password", func(t *testing.T) {
		accountID, err := service.CreateAccount("username", "", "")
		assert.Error(t, err)
		assert.Empty(t, accountID)
		assert.Contains(t, err.Error(), "username and password are required")
	})

	t.Run("duplicate username", func(t *testing.T) {
		accountID1, err := service.CreateAccount("duplicate", "password", "")
		require.NoError(t, err)
		assert.NotEmpty(t, accountID1)

		accountID2, err := service.CreateAccount("duplicate", "password", "")
		assert.ErrorIs(t, err, storage.ErrAccountExists)
		assert.Empty(t, accountID2)
	})
}

func TestAccountService_Authenticate(t *testing.T) {
	store := storage.NewMemoryAccountStore()
	service := NewAccountService(store)

	accountID, err := service.CreateAccount("asha", "testpassword", "")
	require.NoError(t, err)

	t.Run("successful authentication", func(t *testing.T) {
		authAccountID, err := service.Authenticate("asha", "testpassword")
		require.NoError(t, err)
		assert.Equal(t, accountID, authAccountID)
	})

	t.Run("wrong password", func(t *testing.T) {
		authAccountID, err := service.Authenticate("asha", "wrongpassword")
		assert.Error(t, err)
		assert.Empty(t, authAccountID)
		assert.Contains(t, err.Error(), "authentication failed")
	})

	t.Run("non-existent username", func(t *testing.T) {
		authAccountID, err := service.Authenticate("nonexistent", "testpassword")
		assert.Error(t, err)
		assert.Empty(t, authAccountID)
		assert.Contains(t, err.Error(), "authentication failed")
	})

	t.Run("empty credentials", func(t *testing.T) {
		_, err := service.Authenticate("", "testpassword")
		assert.Error(t, err)

		_, err = service.Authenticate("asha", "")
		assert.Error(t, err)
	})
}

func TestAccountService_ValidateToken(t *testing.T) {
	store := storage.NewMemoryAccountStore()
	service := NewAccountService(store)

	accountID, err := service.CreateAccount("asha", "testpassword", "")
	require.NoError(t, err)

	account, err := service.GetAccount(accountID)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		validatedAccountID, err := service.ValidateToken(account.APIToken)
		require.NoError(t, err)
		assert.Equal(t, accountID, validatedAccountID)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := service.ValidateToken("invalid-token")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid token")
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := service.ValidateToken("")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "token is required")
	})
}

func TestAccountService_DeleteAccount(t *testing.T) {
	store := storage.NewMemoryAccountStore()
	service := NewAccountService(store)

	accountID, err := service.CreateAccount("asha", "testpassword", "")
	require.NoError(t, err)

	t.Run("existing account", func(t *testing.T) {
		require.NoError(t, service.DeleteAccount(accountID))

		_, err := service.GetAccount(accountID)
		assert.Error(t, err)
	})

	t.Run("non-existent account", func(t *testing.T) {
		err := service.DeleteAccount("non-existent")
		assert.Error(t, err)
	})

	t.Run("empty account ID", func(t *testing.T) {
		err := service.DeleteAccount("")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "account ID is required")
	})
}

func TestAccountService_ListAccounts(t *testing.T) {
	store := storage.NewMemoryAccountStore()
	service := NewAccountService(store)

	t.Run("empty store", func(t *testing.T) {
		accounts, err := service.ListAccounts()
		require.NoError(t, err)
		assert.Empty(t, accounts)
	})

	t.Run("with accounts", func(t *testing.T) {
		id1, err := service.CreateAccount("user1", "password1", "")
		require.NoError(t, err)
		id2, err := service.CreateAccount("user2", "password2", "")
		require.NoError(t, err)

		accounts, err := service.ListAccounts()
		require.NoError(t, err)
		assert.Len(t, accounts, 2)

		ids := []string{accounts[0].ID, accounts[1].ID}
		assert.ElementsMatch(t, []string{id1, id2}, ids)
	})
}

func TestAccountService_APITokenGeneration(t *testing.T) {
	store := storage.NewMemoryAccountStore()
	service := NewAccountService(store)

	seen := make(map[string]bool)
	for _, username := range []string{"u1", "u2", "u3", "u4", "u5"} {
		accountID, err := service.CreateAccount(username, "password", "")
		require.NoError(t, err)

		account, err := service.GetAccount(accountID)
		require.NoError(t, err)

		assert.Len(t, account.APIToken, 64)
		assert.False(t, seen[account.APIToken], "API tokens should be unique")
		seen[account.APIToken] = true
	}
}

func TestAccountService_PasswordSecurity(t *testing.T) {
	store := storage.NewMemoryAccountStore()
	service := NewAccountService(store)

	accountID, err := service.CreateAccount("asha", "mysecretpassword", "")
	require.NoError(t, err)

	account, err := service.GetAccount(accountID)
	require.NoError(t, err)

	assert.NotEqual(t, "mysecretpassword", account.PasswordHash)
	assert.True(t, strings.HasPrefix(account.PasswordHash, "$2a$") ||
		strings.HasPrefix(account.PasswordHash, "$2b$") ||
		strings.HasPrefix(account.PasswordHash, "$2y$"),
		"Password hash should be bcrypt format")

	err = bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("wrongpassword"))
	assert.Error(t, err)
}

func TestAccountService_ImplementsInterface(t *testing.T) {
	var _ auth.AccountService = NewAccountService(storage.NewMemoryAccountStore())
}
