// Package backend talks to the clinic's REST API when orders are not read
// from Postgres directly.
package backend

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

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/lrlichardi/laboratory/internal/domain/nomenclador"
	"github.com/lrlichardi/laboratory/internal/domain/results"
)

var tracer = otel.Tracer("github.com/lrlichardi/laboratory/internal/platform/backend")

type Config struct {
	BaseURL string
	Timeout time.Duration
	// RPS limits outgoing requests per second; zero means 20.
	RPS float64
}

// Client implements results.OrderRepository and nomenclador.Repository over
// HTTP. Every call waits on a shared rate limiter and runs through a circuit
// breaker that opens after repeated server-side failures.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

var (
	_ results.OrderRepository = (*Client)(nil)
	_ nomenclador.Repository  = (*Client)(nil)
)

func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 20
	}
	burst := int(cfg.RPS)
	if burst < 1 {
		burst = 1
	}

	log := logger.With().Str("component", "backend").Logger()
	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), burst),
		log:     log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			var se *statusError
			return err == nil || (errors.As(err, &se) && se.Code < http.StatusInternalServerError)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c, nil
}

// statusError is a non-2xx response.
type statusError struct {
	Method, Path string
	Code         int
	Body         string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// do sends one request. in, when not nil, is sent as JSON; out, when not nil,
// receives the decoded response body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, span := tracer.Start(ctx, "backend "+method)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)

	err := c.send(ctx, method, path, in, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return mapError(err)
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return nil, &statusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil, nil
	})
	return err
}

// mapError folds transport failures into the domain sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", results.ErrNotFound, se.Error())
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: backend unavailable: %v", results.ErrBackend, err)
	}
	return fmt.Errorf("%w: %v", results.ErrBackend, err)
}

// Ping checks that the backend answers at all.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/price/price-factor", nil, nil)
}
