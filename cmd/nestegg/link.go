package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nestegg-fi/nestegg/internal/certs"
	"github.com/nestegg-fi/nestegg/internal/link"
	"github.com/nestegg-fi/nestegg/internal/plaid"
)

func linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Connect bank accounts via Plaid Link",
		Long: `Connect your bank accounts using Plaid Link.

This command will:
1. Start a local web server
2. Open Plaid Link in your browser
3. Let you connect one or more bank accounts
4. Save the access tokens for future use

You can run this multiple times to add more accounts.`,
		RunE: runLink,
	}

	cmd.Flags().String("user", "default", "user ID to link accounts for")
	cmd.Flags().String("env", "", "Plaid environment (sandbox/production)")
	cmd.Flags().Bool("update-primary", false, "Update the primary access token after linking")

	return cmd
}

// linkResult is the outcome of a completed token exchange.
type linkResult struct {
	AccessToken     string
	ItemID          string
	InstitutionName string
	InstitutionID   string
	Accounts        []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}
}

// linkServer hosts the Plaid Link page and token exchange endpoint. It
/// satisfies the bridge's popup contract: the flow counts as closed once the
// exchange lands or fails, which is when the browser tab stops mattering.
type linkServer struct {
	server     *http.Server
	plaid      plaid.Linker
	browserURL string
	resultChan chan linkResult
	errChan    chan error
	done       atomic.Bool
}

// Open implements link.PopupLauncher.
func (s *linkServer) Open(url string) (link.Popup, error) {
	openBrowser(url)
	return s, nil
}

// Closed implements link.Popup.
func (s *linkServer) Closed() bool {
	return s.done.Load()
}

func (s *linkServer) handleIndex(linkToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, linkPageHTML, linkToken)
	}
}

func (s *linkServer) handleExchange(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PublicToken string `json:"public_token"`
			Metadata    struct {
				Institution struct {
					Name string `json:"name"`
					ID   string `json:"institution_id"`
				} `json:"institution"`
				Accounts []struct {
					ID   string `json:"id"`
					Name string `json:"name"`
					Type string `json:"type"`
				} `json:"accounts"`
			} `json:"metadata"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   "Invalid request",
			})
			return
		}

		// Exchange public token for access token
		accessToken, itemID, err := s.plaid.ExchangePublicToken(ctx, req.PublicToken)
		if err != nil {
			s.errChan <- fmt.Errorf("failed to exchange token: %w", err)
			s.done.Store(true)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   "Failed to exchange token",
			})
			return
		}

		s.resultChan <- linkResult{
			AccessToken:     accessToken,
			ItemID:          itemID,
			InstitutionName: req.Metadata.Institution.Name,
			InstitutionID:   req.Metadata.Institution.ID,
			Accounts:        req.Metadata.Accounts,
		}
		s.done.Store(true)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
		})
	}
}

func runLink(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	userID, _ := cmd.Flags().GetString("user")

	plaidCfg, err := loadPlaidConfig()
	if err != nil {
		return err
	}
	if flagEnv, _ := cmd.Flags().GetString("env"); flagEnv != "" {
		plaidCfg.Environment = flagEnv
	}

	slog.Info("Starting Plaid Link flow", "environment", plaidCfg.Environment, "user_id", userID)

	plaidClient, err := plaid.NewClient(plaidCfg)
	if err != nil {
		return fmt.Errorf("failed to create Plaid client: %w", err)
	}

	linkToken, err := plaidClient.CreateLinkToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to create link token: %w", err)
	}

	ls := &linkServer{
		plaid:      plaidClient,
		resultChan: make(chan linkResult, 1),
		errChan:    make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", ls.handleIndex(linkToken))
	mux.HandleFunc("/exchange", ls.handleExchange(ctx))
	ls.server = &http.Server{Addr: ":8080", Handler: mux}

	if err := startLinkServer(ls, plaidCfg.Environment); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ls.server.Shutdown(shutdownCtx)
	}()

	slog.Info("Opening your browser to connect bank accounts...")
	slog.Info("If the browser doesn't open, visit:", "url", ls.browserURL)

	// The bridge owns the flow lifecycle: browser open, close polling, and
	// the hard timeout.
	bridge := link.New(ls, nil, link.NewDeepLinkRegistry("nestegg"))
	if err := bridge.OpenFlow(ctx, link.Options{
		UserID:    userID,
		URL:       ls.browserURL,
		Transport: link.TransportPopup,
	}); err != nil {
		return err
	}

	// The flow ended; see which way.
	var result linkResult
	select {
	case result = <-ls.resultChan:
	case err := <-ls.errChan:
		return err
	default:
		return fmt.Errorf("link window closed before an account was connected")
	}

	slog.Info("Successfully linked account", "institution", result.InstitutionName)

	// Save the access token
	if err := saveLinkedConnection(result); err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}

	// Register the user for snapshot batches
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()
	if err := store.EnsureUser(ctx, userID); err != nil {
		return err
	}

	if len(result.Accounts) > 0 {
		slog.Info("Connected accounts:")
		for _, acc := range result.Accounts {
			slog.Info("  Account", "name", acc.Name, "type", acc.Type)
		}
	}

	updatePrimary, _ := cmd.Flags().GetBool("update-primary")
	if updatePrimary || viper.GetString("plaid.access_token") == "" {
		viper.Set("plaid.access_token", result.AccessToken)
		if err := saveConfig(); err != nil {
			slog.Warn("Failed to update config file", "error", err)
		} else {
			slog.Info("Updated primary access token in config")
		}
	}

	slog.Info("Your bank account is now connected!")
	slog.Info("Run 'nestegg sync' to fetch balances")

	return nil
}

// configureLinkServer decides the callback scheme: HTTPS in production so
// Plaid Link's OAuth redirect is accepted, plain HTTP in sandbox.
func configureLinkServer(ls *linkServer, environment string, certManager certs.Manager) error {
	if environment != "production" {
		ls.browserURL = "http://localhost:8080"
		return nil
	}

	cert, err := certManager.GetOrCreateCertificate()
	if err != nil {
		return fmt.Errorf("failed to get/create certificate: %w", err)
	}

	ls.server.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	ls.browserURL = "https://localhost:8080"
	return nil
}

func startLinkServer(ls *linkServer, environment string) error {
	var certManager certs.Manager
	if environment == "production" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		certManager = certs.NewFileManager(filepath.Join(configDir, "nestegg", "certs"))
	}

	if err := configureLinkServer(ls, environment, certManager); err != nil {
		return err
	}

	if ls.server.TLSConfig != nil {
		go func() {
			if err := ls.server.ListenAndServeTLS("", ""); err != http.ErrServerClosed {
				ls.errChan <- fmt.Errorf("failed to start HTTPS server: %w", err)
				ls.done.Store(true)
			}
		}()

		slog.Info("Starting secure HTTPS server...")
		slog.Info("Your browser will warn about the self-signed certificate; proceed to localhost to continue.")
		return nil
	}

	go func() {
		if err := ls.server.ListenAndServe(); err != http.ErrServerClosed {
			ls.errChan <- fmt.Errorf("failed to start server: %w", err)
			ls.done.Store(true)
		}
	}()

	slog.Info("Starting server...")
	return nil
}

func saveLinkedConnection(conn linkResult) error {
	// Load existing connections
	connections := viper.GetStringMap("plaid.connections")
	if connections == nil {
		connections = make(map[string]any)
	}

	// Add new connection
	connections[conn.ItemID] = map[string]any{
		"access_token":     conn.AccessToken,
		"institution_name": conn.InstitutionName,
		"institution_id":   conn.InstitutionID,
		"connected_at":     time.Now().Format(time.RFC3339),
		"accounts":         conn.Accounts,
	}

	viper.Set("plaid.connections", connections)
	return saveConfig()
}

const linkPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Connect Your Bank Account - Nestegg</title>
    <script src="https://cdn.plaid.com/link/v2/stable/link-initialize.js"></script>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background-color: #f5f5f5; }
        .container { text-align: center; background: white; padding: 40px; border-radius: 8px;
                    box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
        h1 { color: #333; margin-bottom: 20px; }
        button { background-color: #2e7d32; color: white; padding: 12px 24px;
                font-size: 16px; border: none; border-radius: 4px; cursor: pointer; }
        button:hover { background-color: #1b5e20; }
        .error { color: #d32f2f; margin-top: 20px; }
        .success { color: #388e3c; margin-top: 20px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Connect Your Bank Account</h1>
        <p>Click the button below to securely connect your bank account through Plaid.</p>
        <button id="link-button">Connect Bank Account</button>
        <div id="message"></div>
    </div>

    <script>
    const linkHandler = Plaid.create({
        token: '%s',
        onSuccess: (public_token, metadata) => {
            document.getElementById('message').innerHTML =
                '<div class="success">Processing connection...</div>';

            fetch('/exchange', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ public_token, metadata })
            })
            .then(response => response.json())
            .then(data => {
                if (data.success) {
                    document.getElementById('message').innerHTML =
                        '<div class="success">Account connected successfully! You can close this window.</div>';
                } else {
                    document.getElementById('message').innerHTML =
                        '<div class="error">' + (data.error || 'Connection failed') + '</div>';
                }
            })
            .catch(error => {
                document.getElementById('message').innerHTML =
                    '<div class="error">Network error: ' + error + '</div>';
            });
        },
        onExit: (err, metadata) => {
            if (err != null) {
                document.getElementById('message').innerHTML =
                    '<div class="error">Connection canceled or failed.</div>';
            }
        }
    });

    document.getElementById('link-button').onclick = () => {
        linkHandler.open();
    };
    </script>
</body>
</html>`
