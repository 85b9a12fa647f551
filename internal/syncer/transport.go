package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts    = 4
	defaultInitialBackoff = 500 * time.Millisecond
	defaultRequestTimeout = 30 * time.Second
	reasonNotVerified     = "email_not_verified"
)

var (
	// ErrUnauthorized indicates a missing or rejected bearer credential.
	ErrUnauthorized = errors.New("syncer: unauthorized")
	// ErrNotVerified indicates the account exists but its email is not
	// verified. Sync pauses until the user resolves it; the engine must not
	// retry automatically.
	ErrNotVerified = errors.New("syncer: account not verified")
	// ErrTransient wraps network and server-side failures that are safe to
	// retry with backoff.
	ErrTransient = errors.New("syncer: transient sync failure")

	errMissingBaseURL       = errors.New("syncer: base url is required")
	errMissingTokenProvider = errors.New("syncer: token provider is required")
)

// TokenProvider supplies the bearer credential for a round. Authentication
// itself is a collaborator concern; the transport only attaches the result.
type TokenProvider func(ctx context.Context) (string, error)

// HTTPTransportConfig assembles an HTTPTransport.
type HTTPTransportConfig struct {
	BaseURL        string
	Token          TokenProvider
	Client         *http.Client
	MaxAttempts    int
	InitialBackoff time.Duration
	Logger         *zap.Logger
}

// HTTPTransport speaks the POST /sync wire contract. Transient failures are
// retried with exponential backoff inside a single Round call; authorization
// failures are surfaced immediately as distinguished errors.
type HTTPTransport struct {
	baseURL        string
	token          TokenProvider
	client         *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	logger         *zap.Logger
}

// NewHTTPTransport validates the configuration and constructs a transport.
func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if cfg.Token == nil {
		return nil, errMissingTokenProvider
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &HTTPTransport{
		baseURL:        baseURL,
		token:          cfg.Token,
		client:         client,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		logger:         logger,
	}, nil
}

type roundRequest struct {
	LastSyncTimestamp int64      `json:"lastSyncTimestamp"`
	Changes           []Envelope `json:"changes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Round posts the pending changes and returns the server's response. The same
// payload may be resent after a failure; the server contract keeps that
// harmless.
func (t *HTTPTransport) Round(ctx context.Context, watermark int64, changes []Envelope) (RoundResponse, error) {
	body, err := json.Marshal(roundRequest{LastSyncTimestamp: watermark, Changes: changes})
	if err != nil {
		return RoundResponse{}, err
	}

	backoff := t.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		response, err := t.attempt(ctx, body)
		if err == nil {
			return response, nil
		}
		if !errors.Is(err, ErrTransient) {
			return RoundResponse{}, err
		}
		lastErr = err
		if attempt == t.maxAttempts {
			break
		}
		t.logger.Warn("sync attempt failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return RoundResponse{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return RoundResponse{}, lastErr
}

func (t *HTTPTransport) attempt(ctx context.Context, body []byte) (RoundResponse, error) {
	token, err := t.token(ctx)
	if err != nil {
		return RoundResponse{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return RoundResponse{}, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)

	httpResponse, err := t.client.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return RoundResponse{}, ctx.Err()
		}
		return RoundResponse{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer httpResponse.Body.Close()

	payload, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return RoundResponse{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	switch {
	case httpResponse.StatusCode == http.StatusOK:
	case httpResponse.StatusCode == http.StatusUnauthorized:
		return RoundResponse{}, ErrUnauthorized
	case httpResponse.StatusCode == http.StatusForbidden:
		var reason errorResponse
		if err := json.Unmarshal(payload, &reason); err == nil && reason.Error == reasonNotVerified {
			return RoundResponse{}, ErrNotVerified
		}
		return RoundResponse{}, ErrUnauthorized
	case httpResponse.StatusCode >= http.StatusInternalServerError:
		return RoundResponse{}, fmt.Errorf("%w: server returned %d", ErrTransient, httpResponse.StatusCode)
	default:
		return RoundResponse{}, fmt.Errorf("syncer: server rejected round with status %d", httpResponse.StatusCode)
	}

	var response RoundResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return RoundResponse{}, fmt.Errorf("syncer: malformed server response: %w", err)
	}
	return response, nil
}
