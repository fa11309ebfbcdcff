// ABOUTME: OAuth setup CLI command for Microsoft Graph, Dynamics, and Gmail
// ABOUTME: Runs a local callback server, exchanges the code, and stores the token per provider
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/term"

	"github.com/harperreed/cosell/config"
	"github.com/harperreed/cosell/sync"
)

const authTimeout = 5 * time.Minute

// AuthCommand handles OAuth setup for one provider.
func AuthCommand(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("provider is required: microsoft, dynamics, or google")
	}
	provider := fs.Arg(0)

	oauthConfig, err := authConfig(cfg, provider)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	token, err := runOAuthFlow(ctx, oauthConfig)
	if err != nil {
		return err
	}

	if err := sync.SaveToken(provider, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Printf("\n✓ Authenticated with %s\n", provider)
	fmt.Printf("✓ Token saved to %s\n\n", sync.TokenPath(provider))
	fmt.Println("Ready to scan! Run 'cosell scan' to look for co-sell opportunities.")
	return nil
}

func authConfig(cfg *config.Config, provider string) (*oauth2.Config, error) {
	switch provider {
	case sync.ProviderMicrosoft, sync.ProviderDynamics:
		secret := cfg.Graph.ClientSecret
		if secret == "" && cfg.Graph.ClientID != "" {
			var err error
			if secret, err = promptSecret("Client secret (empty for a public client): "); err != nil {
				return nil, err
			}
		}
		scopes := sync.GraphScopes
		if provider == sync.ProviderDynamics {
			if cfg.Dynamics.URL == "" {
				return nil, fmt.Errorf("dynamics url not configured. Set DYNAMICS_URL")
			}
			scopes = sync.DynamicsScopes(cfg.Dynamics.URL)
		}
		return sync.NewMicrosoftOAuthConfig(cfg.Graph.TenantID, cfg.Graph.ClientID, secret, scopes)

	case sync.ProviderGoogle:
		secret := cfg.Google.ClientSecret
		if secret == "" && cfg.Google.ClientID != "" {
			var err error
			if secret, err = promptSecret("Google client secret: "); err != nil {
				return nil, err
			}
		}
		return sync.NewGoogleOAuthConfig(cfg.Google.ClientID, secret)

	default:
		return nil, fmt.Errorf("unknown provider %q (valid: microsoft, dynamics, google)", provider)
	}
}

// promptSecret reads a secret without echo. Outside a terminal it returns "".
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Print(prompt)
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// callbackHandler delivers the authorization code for state, or an error.
// Sends never block; only the first result is consumed.
func callbackHandler(state string, codes chan<- string, errs chan<- error) http.HandlerFunc {
	fail := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			http.Error(w, "Authorization failed.", http.StatusBadRequest)
			fail(fmt.Errorf("authorization denied: %s %s", e, q.Get("error_description")))
			return
		}
		if q.Get("state") != state {
			http.Error(w, "State mismatch.", http.StatusBadRequest)
			fail(fmt.Errorf("oauth state mismatch"))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "No code.", http.StatusBadRequest)
			fail(fmt.Errorf("no authorization code received"))
			return
		}
		select {
		case codes <- code:
		default:
		}
		_, _ = fmt.Fprintf(w, "Authorization successful! You can close this window.")
	}
}

func runOAuthFlow(ctx context.Context, oauthConfig *oauth2.Config) (*oauth2.Token, error) {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	codes := make(chan string, 1)
	errs := make(chan error, 2)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", callbackHandler(state, codes, errs))
	server := &http.Server{Addr: "localhost:8080", Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errs <- err:
			default:
			}
		}
	}()
	defer func() { _ = server.Shutdown(context.Background()) }()

	authURL := oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	fmt.Println("Opening browser for sign-in...")
	fmt.Printf("\nIf browser doesn't open, visit this URL:\n%s\n\n", authURL)
	_ = openBrowser(authURL)

	select {
	case code := <-codes:
		token, err := oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(verifier))
		if err != nil {
			return nil, fmt.Errorf("failed to exchange code: %w", err)
		}
		return token, nil
	case err := <-errs:
		return nil, fmt.Errorf("OAuth flow failed: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("OAuth flow timed out: %w", ctx.Err())
	}
}

func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	return exec.Command(cmd, args...).Start()
}
