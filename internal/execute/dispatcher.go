// Package execute sends source text to the external execution service and
// normalizes whatever it answers into a Result.
package execute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/serroba/coderoom/internal/document"
	"go.uber.org/zap"
)

// Defaults for DispatcherConfig.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 1 << 20
)

// Errors reported as failure detail.
var (
	ErrNoEndpoint       = errors.New("no execution endpoint configured")
	ErrResponseTooLarge = errors.New("execution response exceeds the size limit")
)

// Request is the body posted to the execution service.
type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// DispatcherConfig holds configuration for creating a dispatcher.
type DispatcherConfig struct {
	Endpoint     string
	Client       *http.Client
	Logger       *zap.Logger
	MaxBodyBytes int64
}

// Dispatcher runs source code through the execution service.
type Dispatcher struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
	maxBody  int64
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody == 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return &Dispatcher{
		endpoint: cfg.Endpoint,
		client:   client,
		logger:   logger,
		maxBody:  maxBody,
	}
}

// Execute posts source to the service. It never returns an error: transport
// failures come back as a failed Result carrying the best detail available.
func (d *Dispatcher) Execute(ctx context.Context, lang document.Language, source string) Result {
	if d.endpoint == "" {
		return failure(ErrNoEndpoint.Error())
	}

	logger := d.logger.With(zap.String("language", lang.String()))

	body, err := json.Marshal(Request{Language: lang.String(), Code: source})
	if err != nil {
		return failure(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(err.Error())
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		logger.Warn("execution request failed", zap.Error(err))

		return failure(transportDetail(nil, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBody+1))
	if err != nil {
		logger.Warn("reading execution response failed", zap.Error(err))

		return failure(transportDetail(raw, err))
	}

	if int64(len(raw)) > d.maxBody {
		logger.Warn("execution response too large", zap.Int("status", resp.StatusCode), zap.Int64("limit", d.maxBody))

		return failure(fmt.Sprintf("%s: execution service returned %s", ErrResponseTooLarge, resp.Status))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		logger.Warn("execution service error", zap.Int("status", resp.StatusCode))

		return failure(transportDetail(raw, fmt.Errorf("execution service returned %s", resp.Status)))
	}

	result := Normalize(raw)
	logger.Debug("execution finished", zap.Bool("ok", result.OK))

	return result
}
