package wallet

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AuthState represents the saved wallet aggregator authentication state.
type AuthState struct {
	AccessURL   string    `json:"access_url"`
	AccessToken string    `json:"access_token"`
	ClaimedAt   time.Time `json:"claimed_at"`
	ClaimToken  string    `json:"claim_token_hash"` // Store hash for tracking
}

// LoadOrClaimAuth loads existing auth or claims a new setup token.
func LoadOrClaimAuth(token string) (*AuthState, error) {
	stateFile, err := getStateFilePath()
	if err != nil {
		return nil, fmt.Errorf("failed to get state file path: %w", err)
	}

	auth, err := loadAuthState(stateFile)
	if err == nil && auth.AccessURL != "" {
		slog.Info("Using saved wallet access URL",
			"claimed_at", auth.ClaimedAt.Format("2006-01-02"),
			"state_file", stateFile)
		return auth, nil
	}

	slog.Info("No saved auth found, claiming new wallet setup token")
	claimed, err := claimToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to claim token: %w", err)
	}

	claimed.ClaimedAt = time.Now()
	claimed.ClaimToken = hashToken(token)

	if err := saveAuthState(stateFile, claimed); err != nil {
		return nil, fmt.Errorf("failed to save auth state: %w", err)
	}

	slog.Info("Successfully claimed and saved wallet access URL",
		"state_file", stateFile)

	return claimed, nil
}

// claimToken exchanges a one-time setup token for an access URL and token.
// Setup tokens are base64-encoded claim URLs.
func claimToken(token string) (*AuthState, error) {
	decodedBytes, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		decodedBytes, err = base64.StdEncoding.DecodeString(token)
		if err != nil {
			return nil, fmt.Errorf("failed to decode wallet setup token: %w", err)
		}
	}

	claimURL := string(decodedBytes)
	if !strings.HasPrefix(claimURL, "http://") && !strings.HasPrefix(claimURL, "https://") {
		return nil, fmt.Errorf("decoded token is not a valid URL: %s", claimURL)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequest(http.MethodPost, claimURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create claim request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to claim access URL: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to claim wallet access: %d - %s", resp.StatusCode, string(body))
	}

	var claimed struct {
		AccessURL   string `json:"access_url"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&claimed); err != nil {
		return nil, fmt.Errorf("failed to decode claim response: %w", err)
	}

	if !strings.HasPrefix(claimed.AccessURL, "http://") && !strings.HasPrefix(claimed.AccessURL, "https://") {
		return nil, fmt.Errorf("invalid access URL received: %s", claimed.AccessURL)
	}
	if claimed.AccessToken == "" {
		return nil, fmt.Errorf("claim response missing access token")
	}

	return &AuthState{
		AccessURL:   strings.TrimRight(claimed.AccessURL, "/"),
		AccessToken: claimed.AccessToken,
	}, nil
}

func getStateFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	// Use XDG_DATA_HOME if set, otherwise ~/.local/share
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(home, ".local", "share")
	}

	stateDir := filepath.Join(dataDir, "nestegg")
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return "", err
	}

	return filepath.Join(stateDir, "wallet_auth.json"), nil
}

func loadAuthState(path string) (*AuthState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var auth AuthState
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, err
	}

	return &auth, nil
}

func saveAuthState(path string, auth *AuthState) error {
	data, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Read/write for owner only
}

func hashToken(token string) string {
	// Just store first/last 8 chars for identification
	if len(token) > 16 {
		return token[:8] + "..." + token[len(token)-8:]
	}
	return "short_token"
}
