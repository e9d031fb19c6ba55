// Package main provides a CLI for interacting with the AIforBharat gateway.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	serverURL  string
	username   string
	password   string
	token      string
	configPath string
)

// Config represents the CLI configuration
type Config struct {
	ServerURL string `json:"server_url"`
	Username  string `json:"username"`
	Token     string `json:"token"`
	JWTToken  string `json:"jwt_token"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "bharatctl",
		Short: "AIforBharat gateway CLI",
		Long:  "Command-line interface for interacting with the AIforBharat gateway",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if serverURL == "" || (username == "" && token == "") {
				loadCLIConfig()
			}
			if serverURL == "" {
				serverURL = "http://localhost:8000"
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Gateway URL")
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "Username")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "Password")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "API or JWT token")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(flowCmd())
	rootCmd.AddCommand(engineCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store a JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{
				"username": username,
				"password": password,
			})
			if err != nil {
				return err
			}

			resp, err := http.Post(serverURL+"/api/v1/login", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("login request failed: %w", err)
			}
			defer resp.Body.Close()

			payload, err := decodeEnvelope(resp)
			if err != nil {
				return err
			}

			jwtToken, _ := payload["access_token"].(string)
			if jwtToken == "" {
				return fmt.Errorf("login response carried no token")
			}

			if err := saveCLIConfig(Config{
				ServerURL: serverURL,
				Username:  username,
				JWTToken:  jwtToken,
			}); err != nil {
				return err
			}

			fmt.Println("Login successful")
			return nil
		},
	}
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage gateway accounts",
	}

	var phone string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{
				"username": username,
				"password": password,
				"phone":    phone,
			})
			if err != nil {
				return err
			}

			resp, err := http.Post(serverURL+"/api/v1/accounts", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("account creation failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusConflict {
				return fmt.Errorf("account %q already exists", username)
			}

			payload, err := decodeEnvelope(resp)
			if err != nil {
				return err
			}

			fmt.Printf("Account created: %v\n", payload["id"])
			fmt.Printf("API token: %v\n", payload["api_token"])
			return nil
		},
	}
	create.Flags().StringVar(&phone, "phone", "", "Registered phone number")

	me := &cobra.Command{
		Use:   "me",
		Short: "Show the authenticated account",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := doAuthenticated(http.MethodGet, "/api/v1/accounts/me", nil)
			if err != nil {
				return err
			}
			return printJSON(payload)
		},
	}

	cmd.AddCommand(create, me)
	return cmd
}

func flowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "List and run composite flows",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := doAuthenticated(http.MethodGet, "/api/v1/flows", nil)
			if err != nil {
				return err
			}
			return printJSON(payload)
		},
	}

	var data string
	var idempotencyKey string
	run := &cobra.Command{
		Use:   "run <name>",
		Short: "Run a flow with a JSON payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("invalid --data JSON: %w", err)
				}
			}

			headers := map[string]string{}
			if idempotencyKey != "" {
				headers["Idempotency-Key"] = idempotencyKey
			}

			result, err := doAuthenticatedWithHeaders(http.MethodPost, "/api/v1/flows/"+args[0]+"/run", payload, headers)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	run.Flags().StringVar(&data, "data", "", "Request payload as JSON")
	run.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key for mutating flows")

	cmd.AddCommand(list, run)
	return cmd
}

func engineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Inspect downstream engines",
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Probe every engine live",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := doAuthenticated(http.MethodGet, "/api/v1/engines/health", nil)
			if err != nil {
				return err
			}
			return printJSON(payload)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show tracked engine health without probing",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := doAuthenticated(http.MethodGet, "/api/v1/engines/status", nil)
			if err != nil {
				return err
			}
			return printJSON(payload)
		},
	}

	cmd.AddCommand(health, status)
	return cmd
}

// doAuthenticated issues a request with the stored or supplied credentials
func doAuthenticated(method, path string, payload map[string]any) (map[string]any, error) {
	return doAuthenticatedWithHeaders(method, path, payload, nil)
}

func doAuthenticatedWithHeaders(method, path string, payload map[string]any, headers map[string]string) (map[string]any, error) {
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, serverURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	switch {
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	case username != "" && password != "":
		req.SetBasicAuth(username, password)
	default:
		return nil, fmt.Errorf("no credentials: login first or pass --token / --username")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp)
}

// decodeEnvelope parses the gateway's response envelope and surfaces errors
func decodeEnvelope(resp *http.Response) (map[string]any, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Success bool           `json:"success"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
		Errors  []string       `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, string(body))
	}

	if !envelope.Success {
		if len(envelope.Errors) > 0 {
			return nil, fmt.Errorf("%s: %s", envelope.Message, envelope.Errors[0])
		}
		return nil, fmt.Errorf("%s", envelope.Message)
	}

	return envelope.Data, nil
}

func printJSON(payload map[string]any) error {
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func cliConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(os.Getenv("HOME"), ".aiforbharat", "cli.json")
}

func loadCLIConfig() {
	data, err := os.ReadFile(cliConfigPath())
	if err != nil {
		return
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return
	}

	if serverURL == "" {
		serverURL = cfg.ServerURL
	}
	if username == "" {
		username = cfg.Username
	}
	if token == "" {
		if cfg.JWTToken != "" {
			token = cfg.JWTToken
		} else {
			token = cfg.Token
		}
	}
}

func saveCLIConfig(cfg Config) error {
	path := cliConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
