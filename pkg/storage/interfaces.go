// Package storage provides persistence for accounts and flow executions.
package storage

import (
	"errors"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/auth"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/orchestrator"
)

// Errors returned by storage providers
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrExecutionNotFound = errors.New("execution not found")
)

// StorageProvider is the interface for storage backends
type StorageProvider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// GetAccountStore returns a store for account data
	GetAccountStore() AccountStore

	// GetExecutionStore returns a store for execution data
	GetExecutionStore() ExecutionStore
}

// AccountStore persists accounts
type AccountStore interface {
	// SaveAccount persists an account
	SaveAccount(account auth.Account) error

	// GetAccount retrieves an account
	GetAccount(accountID string) (auth.Account, error)

	// GetAccountByUsername retrieves an account by username
	GetAccountByUsername(username string) (auth.Account, error)

	// GetAccountByToken retrieves an account by API token
	GetAccountByToken(token string) (auth.Account, error)

	// ListAccounts returns all accounts
	ListAccounts() ([]auth.Account, error)

	// DeleteAccount removes an account
	DeleteAccount(accountID string) error
}

// ExecutionStore persists finished flow executions for audit and replay
type ExecutionStore interface {
	// SaveExecution persists an execution
	SaveExecution(execution orchestrator.Execution) error

	// GetExecution retrieves an execution
	GetExecution(executionID string) (orchestrator.Execution, error)

	// ListExecutions returns executions for an account, newest first
	ListExecutions(accountID string) ([]orchestrator.Execution, error)
}
