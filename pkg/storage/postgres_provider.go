package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/auth"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/orchestrator"
)

// PostgreSQLProvider implements the StorageProvider interface using PostgreSQL
type PostgreSQLProvider struct {
	db             *sql.DB
	accountStore   *PostgreSQLAccountStore
	executionStore *PostgreSQLExecutionStore
}

// PostgreSQLProviderConfig contains configuration for the PostgreSQL provider
type PostgreSQLProviderConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewPostgreSQLProvider creates a new PostgreSQL storage provider
func NewPostgreSQLProvider(config PostgreSQLProviderConfig) (*PostgreSQLProvider, error) {
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	provider := &PostgreSQLProvider{
		db: db,
	}
	provider.accountStore = NewPostgreSQLAccountStore(db)
	provider.executionStore = NewPostgreSQLExecutionStore(db)

	return provider, nil
}

// Initialize sets up the storage backend
func (p *PostgreSQLProvider) Initialize() error {
	if err := p.accountStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize account store: %w", err)
	}

	if err := p.executionStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize execution store: %w", err)
	}

	return nil
}

// Close cleans up resources
func (p *PostgreSQLProvider) Close() error {
	return p.db.Close()
}

// GetAccountStore returns a store for account data
func (p *PostgreSQLProvider) GetAccountStore() AccountStore {
	return p.accountStore
}

// GetExecutionStore returns a store for execution data
func (p *PostgreSQLProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// PostgreSQLAccountStore implements the AccountStore interface using PostgreSQL
type PostgreSQLAccountStore struct {
	db *sql.DB
}

// NewPostgreSQLAccountStore creates a new PostgreSQL account store
func NewPostgreSQLAccountStore(db *sql.DB) *PostgreSQLAccountStore {
	return &PostgreSQLAccountStore{
		db: db,
	}
}

// Initialize creates the accounts table if it doesn't exist
func (s *PostgreSQLAccountStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			account_id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			phone TEXT,
			password_hash TEXT NOT NULL,
			api_token TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS accounts_api_token_idx ON accounts (api_token);
	`)

	if err != nil {
		return fmt.Errorf("failed to create accounts table: %w", err)
	}

	return nil
}

// SaveAccount persists an account
func (s *PostgreSQLAccountStore) SaveAccount(account auth.Account) error {
	_, err := s.db.Exec(`
		INSERT INTO accounts (account_id, username, phone, password_hash, api_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id) DO UPDATE SET
			username = EXCLUDED.username,
			phone = EXCLUDED.phone,
			password_hash = EXCLUDED.password_hash,
			api_token = EXCLUDED.api_token,
			updated_at = EXCLUDED.updated_at
	`, account.ID, account.Username, account.Phone, account.PasswordHash, account.APIToken, account.CreatedAt, account.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	return nil
}

// GetAccount retrieves an account
func (s *PostgreSQLAccountStore) GetAccount(accountID string) (auth.Account, error) {
	return s.scanAccount(s.db.QueryRow(
		"SELECT account_id, username, phone, password_hash, api_token, created_at, updated_at FROM accounts WHERE account_id = $1",
		accountID,
	))
}

// GetAccountByUsername retrieves an account by username
func (s *PostgreSQLAccountStore) GetAccountByUsername(username string) (auth.Account, error) {
	return s.scanAccount(s.db.QueryRow(
		"SELECT account_id, username, phone, password_hash, api_token, created_at, updated_at FROM accounts WHERE username = $1",
		username,
	))
}

// GetAccountByToken retrieves an account by API token
func (s *PostgreSQLAccountStore) GetAccountByToken(token string) (auth.Account, error) {
	return s.scanAccount(s.db.QueryRow(
		"SELECT account_id, username, phone, password_hash, api_token, created_at, updated_at FROM accounts WHERE api_token = $1",
		token,
	))
}

func (s *PostgreSQLAccountStore) scanAccount(row *sql.Row) (auth.Account, error) {
	var account auth.Account
	var phone sql.NullString

	err := row.Scan(&account.ID, &account.Username, &phone, &account.PasswordHash, &account.APIToken, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return auth.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return auth.Account{}, fmt.Errorf("failed to get account: %w", err)
	}

	account.Phone = phone.String
	return account, nil
}

// ListAccounts returns all accounts
func (s *PostgreSQLAccountStore) ListAccounts() ([]auth.Account, error) {
	rows, err := s.db.Query(
		"SELECT account_id, username, phone, password_hash, api_token, created_at, updated_at FROM accounts ORDER BY created_at",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []auth.Account
	for rows.Next() {
		var account auth.Account
		var phone sql.NullString

		if err := rows.Scan(&account.ID, &account.Username, &phone, &account.PasswordHash, &account.APIToken, &account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		account.Phone = phone.String
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// DeleteAccount removes an account
func (s *PostgreSQLAccountStore) DeleteAccount(accountID string) error {
	result, err := s.db.Exec("DELETE FROM accounts WHERE account_id = $1", accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// PostgreSQLExecutionStore implements the ExecutionStore interface using PostgreSQL
type PostgreSQLExecutionStore struct {
	db *sql.DB
}

// NewPostgreSQLExecutionStore creates a new PostgreSQL execution store
func NewPostgreSQLExecutionStore(db *sql.DB) *PostgreSQLExecutionStore {
	return &PostgreSQLExecutionStore{
		db: db,
	}
}

// Initialize creates the executions table if it doesn't exist
func (s *PostgreSQLExecutionStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			flow_name TEXT NOT NULL,
			account_id TEXT,
			request_id TEXT,
			state TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			data JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS executions_account_id_idx ON executions (account_id);
	`)

	if err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	return nil
}

// SaveExecution persists an execution
func (s *PostgreSQLExecutionStore) SaveExecution(execution orchestrator.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO executions (execution_id, flow_name, account_id, request_id, state, started_at, finished_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (execution_id) DO UPDATE SET
			state = EXCLUDED.state,
			finished_at = EXCLUDED.finished_at,
			data = EXCLUDED.data
	`, execution.ID, execution.FlowName, execution.AccountID, execution.RequestID, string(execution.State), execution.StartedAt, execution.FinishedAt, data)

	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// GetExecution retrieves an execution
func (s *PostgreSQLExecutionStore) GetExecution(executionID string) (orchestrator.Execution, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM executions WHERE execution_id = $1", executionID).Scan(&data)
	if err == sql.ErrNoRows {
		return orchestrator.Execution{}, ErrExecutionNotFound
	}
	if err != nil {
		return orchestrator.Execution{}, fmt.Errorf("failed to get execution: %w", err)
	}

	var execution orchestrator.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return orchestrator.Execution{}, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	return execution, nil
}

// ListExecutions returns executions for an account, newest first
func (s *PostgreSQLExecutionStore) ListExecutions(accountID string) ([]orchestrator.Execution, error) {
	rows, err := s.db.Query(
		"SELECT data FROM executions WHERE account_id = $1 ORDER BY started_at DESC",
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []orchestrator.Execution
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		var execution orchestrator.Execution
		if err := json.Unmarshal(data, &execution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		executions = append(executions, execution)
	}

	return executions, rows.Err()
}
