package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/algoclash/judge-api/judge-api/internal/config"
	"github.com/algoclash/judge-api/judge-api/internal/types"
)

// Judge0Client talks to a judge0-compatible sandbox over its batch HTTP API.
type Judge0Client struct {
	client        *http.Client
	baseURL       string
	apiKey        string
	hostHeader    string
	base64Encoded bool
}

var _ Client = (*Judge0Client)(nil)

func NewJudge0Client(cfg *config.SandboxConfig) *Judge0Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = cfg.RequestTimeout

	return &Judge0Client{
		client:        retryClient.StandardClient(),
		baseURL:       strings.TrimSuffix(cfg.URL, "/"),
		apiKey:        cfg.APIKey,
		hostHeader:    cfg.HostHeader,
		base64Encoded: cfg.Base64Encoded,
	}
}

type wireSubmission struct {
	LanguageID     int    `json:"language_id"`
	SourceCode     string `json:"source_code"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
}

type wireBatch struct {
	Submissions []wireSubmission `json:"submissions"`
}

type wireToken struct {
	Token string `json:"token"`
}

type wireStatus struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type wireResult struct {
	Token         string     `json:"token"`
	Status        wireStatus `json:"status"`
	Stdout        *string    `json:"stdout"`
	Stderr        *string    `json:"stderr"`
	CompileOutput *string    `json:"compile_output"`
	Message       *string    `json:"message"`
	Time          *string    `json:"time"`
	Memory        *float64   `json:"memory"`
}

type wireResultBatch struct {
	Submissions []wireResult `json:"submissions"`
}

func (c *Judge0Client) encode(s string) string {
	if !c.base64Encoded {
		return s
	}

	return base64.StdEncoding.EncodeToString([]byte(s))
}

func (c *Judge0Client) decode(s *string) (string, error) {
	if s == nil {
		return "", nil
	}
	if !c.base64Encoded {
		return *s, nil
	}

	// judge0 inserts newlines into long base64 payloads
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(*s, "\n", ""))
	if err != nil {
		return "", err
	}

	return string(raw), nil
}

func (c *Judge0Client) batchURL(query url.Values) string {
	query.Set("base64_encoded", strconv.FormatBool(c.base64Encoded))
	query.Set("fields", "*")

	return c.baseURL + "/submissions/batch?" + query.Encode()
}

func (c *Judge0Client) do(ctx context.Context, method, rawURL string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to construct sandbox request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-RapidAPI-Key", c.apiKey)
	req.Header.Set("X-RapidAPI-Host", c.hostHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	return raw, nil
}

func (c *Judge0Client) Submit(ctx context.Context, requests []Request) ([]Acceptance, error) {
	ctx, span := tracer.Start(ctx, "Judge0Client.Submit", trace.WithAttributes(
		attribute.Int("requests", len(requests)),
	))
	defer span.End()

	batch := wireBatch{Submissions: make([]wireSubmission, len(requests))}
	for i, request := range requests {
		batch.Submissions[i] = wireSubmission{
			LanguageID:     request.LanguageID,
			SourceCode:     c.encode(request.SourceCode),
			Stdin:          c.encode(request.Stdin),
			ExpectedOutput: c.encode(request.ExpectedOutput),
		}
	}

	body, err := json.Marshal(batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode batch")
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, c.batchURL(url.Values{}), bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit batch")
		return nil, err
	}

	var tokens []wireToken
	if err := json.Unmarshal(raw, &tokens); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode batch response")
		return nil, &DecodeError{Err: err}
	}

	if len(tokens) != len(requests) {
		span.RecordError(ErrCountMismatch)
		span.SetStatus(codes.Error, "token count did not match request count")
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrCountMismatch, len(requests), len(tokens))
	}

	acceptances := make([]Acceptance, len(tokens))
	for i, token := range tokens {
		acceptances[i] = Acceptance{
			Token:  token.Token,
			Status: types.SubmissionStatusInQueue,
		}
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "submitted batch")
	return acceptances, nil
}

func (c *Judge0Client) Poll(ctx context.Context, tokens []string) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Judge0Client.Poll", trace.WithAttributes(
		attribute.Int("tokens", len(tokens)),
	))
	defer span.End()

	query := url.Values{}
	query.Set("tokens", strings.Join(tokens, ","))

	raw, err := c.do(ctx, http.MethodGet, c.batchURL(query), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to poll batch")
		return nil, err
	}

	var batch wireResultBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode poll response")
		return nil, &DecodeError{Err: err}
	}

	if len(batch.Submissions) != len(tokens) {
		span.RecordError(ErrCountMismatch)
		span.SetStatus(codes.Error, "result count did not match token count")
		return nil, fmt.Errorf("%w: asked %d, got %d", ErrCountMismatch, len(tokens), len(batch.Submissions))
	}

	results := make([]Result, len(batch.Submissions))
	for i, sub := range batch.Submissions {
		status, err := types.FromSandboxStatusCode(sub.Status.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sandbox returned unrecognized status code")
			return nil, err
		}

		result := Result{
			Token:  sub.Token,
			Status: status,
		}

		if result.Stdout, err = c.decode(sub.Stdout); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to decode stdout")
			return nil, &DecodeError{Err: err}
		}
		if result.Stderr, err = c.decode(sub.Stderr); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to decode stderr")
			return nil, &DecodeError{Err: err}
		}
		if result.CompileOutput, err = c.decode(sub.CompileOutput); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to decode compile output")
			return nil, &DecodeError{Err: err}
		}
		if result.Message, err = c.decode(sub.Message); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to decode message")
			return nil, &DecodeError{Err: err}
		}

		if sub.Time != nil {
			result.Time = *sub.Time
		}
		if sub.Memory != nil {
			result.Memory = int(*sub.Memory)
		}

		results[i] = result
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "polled batch")
	return results, nil
}
