package cloudapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	stateTokenBytes = 16
	callbackPath    = "/"
	shutdownTimeout = 5 * time.Second
)

// callbackResult carries the authorization code or error from the
// callback handler.
type callbackResult struct {
	code string
	err  error
}

// AuthConfig names the PKCE client registration for the remote vault's
// OAuth2 authorization server. The adapter is provider-agnostic, so
// this carries a generic oauth2.Endpoint rather than a hardcoded one.
type AuthConfig struct {
	ClientID string
	Endpoint oauth2.Endpoint
	Scopes   []string
}

func (a AuthConfig) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: a.ClientID,
		Scopes:   a.Scopes,
		Endpoint: a.Endpoint,
	}
}

// Login performs the authorization code + PKCE flow against a localhost
// callback server: open the browser, receive the code, exchange it for a
// token, persist the token, and return a TokenSource.
//
// openURL is called with the authorization URL; the caller launches the
// user's browser. If it errors, the URL is printed to stderr as a
// fallback. ctx must outlive the returned TokenSource, since silent refresh
// depends on it.
func Login(ctx context.Context, auth AuthConfig, tokenPath string, openURL func(string) error, logger *slog.Logger) (TokenSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := auth.oauthConfig()
	return doLogin(ctx, cfg, tokenPath, openURL, logger)
}

func doLogin(ctx context.Context, cfg *oauth2.Config, tokenPath string, openURL func(string) error, logger *slog.Logger) (TokenSource, error) {
	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}
	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d", port)

	verifier := oauth2.GenerateVerifier()
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("cloudapi: generating state token: %w", err)
	}

	registerCallbackHandler(mux, state, resultCh)

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	launchBrowser(authURL, openURL, logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	return exchangeAndSave(ctx, cfg, tokenPath, code, verifier, logger)
}

func startCallbackServer(ctx context.Context, mux *http.ServeMux, resultCh chan<- callbackResult, logger *slog.Logger) (*http.Server, int, error) {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("cloudapi: binding localhost listener: %w", err)
	}
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("cloudapi: listener address is not TCP")
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("cloudapi: callback server error: %w", serveErr)}
		}
	}()

	return srv, tcpAddr.Port, nil
}

func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	if r.URL.Query().Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: errors.New("cloudapi: OAuth2 state mismatch (possible CSRF)")}
		return
	}
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("cloudapi: authorization failed: %s: %s", errParam, desc)}
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: errors.New("cloudapi: callback missing authorization code")}
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", "error", err.Error())
	}
}

func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL", "error", openErr.Error())
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}
		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("cloudapi: browser auth canceled: %w", ctx.Err())
	}
}

func exchangeAndSave(ctx context.Context, cfg *oauth2.Config, tokenPath, code, verifier string, logger *slog.Logger) (TokenSource, error) {
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("cloudapi: token exchange failed: %w", err)
	}
	if err := saveToken(tokenPath, tok, nil); err != nil {
		return nil, fmt.Errorf("cloudapi: saving token: %w", err)
	}
	logger.Info("login successful", "path", tokenPath, "expiry", tok.Expiry)
	return newPersistingSource(cfg.TokenSource(ctx, tok), tok, tokenPath, nil, logger), nil
}

func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// TokenSourceFromPath loads a saved token and returns a TokenSource with
// auto-refresh and auto-persistence. Returns ErrNotLoggedIn if no token
// file exists at the path.
func TokenSourceFromPath(ctx context.Context, auth AuthConfig, tokenPath string, logger *slog.Logger) (TokenSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tok, meta, err := loadToken(tokenPath)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	cfg := auth.oauthConfig()
	return newPersistingSource(cfg.TokenSource(ctx, tok), tok, tokenPath, meta, logger), nil
}

// Logout removes the saved token file. Returns nil if already logged out.
func Logout(tokenPath string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("logout: removed token file", "path", tokenPath)
	return nil
}

// persistingSource adapts oauth2.TokenSource to cloudapi.TokenSource,
// writing the token file back whenever a silent refresh produced a new
// access token so the next process start doesn't repeat the refresh.
type persistingSource struct {
	mu        sync.Mutex
	src       oauth2.TokenSource
	last      *oauth2.Token
	tokenPath string
	meta      map[string]string
	logger    *slog.Logger
}

func newPersistingSource(src oauth2.TokenSource, last *oauth2.Token, tokenPath string, meta map[string]string, logger *slog.Logger) *persistingSource {
	return &persistingSource{src: src, last: last, tokenPath: tokenPath, meta: meta, logger: logger}
}

func (p *persistingSource) Token() (string, error) {
	t, err := p.src.Token()
	if err != nil {
		return "", fmt.Errorf("cloudapi: obtaining token: %w", err)
	}

	p.mu.Lock()
	changed := p.last == nil || p.last.AccessToken != t.AccessToken
	p.last = t
	p.mu.Unlock()

	if changed {
		if err := saveToken(p.tokenPath, t, p.meta); err != nil {
			p.logger.Warn("failed to persist refreshed token", "path", p.tokenPath, "error", err.Error())
		} else {
			p.logger.Debug("persisted refreshed token", "path", p.tokenPath)
		}
	}
	return t.AccessToken, nil
}
