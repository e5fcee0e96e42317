package wishes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	// DefaultRemoteBaseURL is the JSONBin v3 API root.
	DefaultRemoteBaseURL = "https://api.jsonbin.io/v3"

	masterKeyHeader          = "X-Master-Key"
	defaultRemoteTimeout     = 10 * time.Second
	defaultRetryMaxElapsed   = 15 * time.Second
	defaultRetryInitialDelay = 250 * time.Millisecond
)

// RemoteReplicaConfig describes the hosted JSON document store.
type RemoteReplicaConfig struct {
	BaseURL         string
	APIKey          string
	BinID           string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

// RemoteReplica reads and writes the collection as a single JSONBin document.
type RemoteReplica struct {
	client          *resty.Client
	apiKey          string
	binID           string
	retryMaxElapsed time.Duration
	logger          *zap.Logger
	saveMu          sync.Mutex
}

type remoteDocument struct {
	Record json.RawMessage `json:"record"`
}

// NewRemoteReplica builds the client. A missing key or bin id is not an
// error here: the replica then reports ErrReplicaNotConfigured on every call.
func NewRemoteReplica(cfg RemoteReplicaConfig) *RemoteReplica {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultRemoteBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	retryMaxElapsed := cfg.RetryMaxElapsed
	if retryMaxElapsed <= 0 {
		retryMaxElapsed = defaultRetryMaxElapsed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &RemoteReplica{
		client:          client,
		apiKey:          strings.TrimSpace(cfg.APIKey),
		binID:           strings.TrimSpace(cfg.BinID),
		retryMaxElapsed: retryMaxElapsed,
		logger:          logger,
	}
}

// Configured reports whether credentials for the remote store are present.
func (r *RemoteReplica) Configured() bool {
	return r.apiKey != "" && r.binID != ""
}

// Load fetches the latest document version.
func (r *RemoteReplica) Load(ctx context.Context) ([]any, error) {
	if !r.Configured() {
		return nil, ErrReplicaNotConfigured
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader(masterKeyHeader, r.apiKey).
		SetPathParam("bin", r.binID).
		Get("/b/{bin}/latest")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReplicaUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrReplicaUnavailable, resp.StatusCode())
	}
	var document remoteDocument
	if err := json.Unmarshal(resp.Body(), &document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if len(document.Record) == 0 {
		return nil, nil
	}
	return decodeSnapshot(document.Record)
}

// Save replaces the document with the full collection. Saves are serialized
// so a retried older snapshot never lands after a newer one.
func (r *RemoteReplica) Save(ctx context.Context, wishes []Wish) error {
	if !r.Configured() {
		return ErrReplicaNotConfigured
	}
	if len(wishes) > MaxWishes {
		return fmt.Errorf("%w: %d", ErrTooManyWishes, len(wishes))
	}
	if wishes == nil {
		wishes = []Wish{}
	}

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = defaultRetryInitialDelay
	policy.MaxElapsedTime = r.retryMaxElapsed

	attempt := 0
	operation := func() error {
		attempt++
		resp, err := r.client.R().
			SetContext(ctx).
			SetHeader(masterKeyHeader, r.apiKey).
			SetPathParam("bin", r.binID).
			SetBody(wishes).
			Put("/b/{bin}")
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			r.logger.Warn("remote save attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		status := resp.StatusCode()
		switch {
		case status >= 200 && status < 300:
			return nil
		case status >= 500 || status == http.StatusTooManyRequests:
			r.logger.Warn("remote save attempt rejected", zap.Int("attempt", attempt), zap.Int("status", status))
			return fmt.Errorf("status %d", status)
		default:
			return backoff.Permanent(fmt.Errorf("status %d: %s", status, resp.String()))
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrReplicaUnavailable, err)
	}
	return nil
}
