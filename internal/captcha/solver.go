package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultSolverURL = "https://2captcha.com"

// Solver submits challenges to the 2captcha service and polls for the
// token. Solving a visible challenge typically takes 30-90s.
type Solver struct {
	apiKey  string
	baseURL string
	client  *http.Client
	poll    time.Duration
	log     *zap.Logger
}

// NewSolver creates a solver client. The returned solver is nil-safe to
// skip: callers check Configured before relying on it.
func NewSolver(apiKey string, log *zap.Logger) *Solver {
	return &Solver{
		apiKey:  apiKey,
		baseURL: defaultSolverURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		poll:    5 * time.Second,
		log:     log,
	}
}

// Configured reports whether an API key is present
func (s *Solver) Configured() bool {
	return s != nil && s.apiKey != ""
}

type solverResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the challenge and blocks until a token arrives, the
// service reports an error, or ctx is cancelled
func (s *Solver) Solve(ctx context.Context, ch Challenge) (string, error) {
	params, err := s.submitParams(ch)
	if err != nil {
		return "", err
	}

	s.log.Info("🤖 submitting challenge to solver",
		zap.String("type", ch.Kind.String()),
		zap.String("url", ch.PageURL))

	taskID, err := s.submit(ctx, params)
	if err != nil {
		return "", err
	}

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("solver wait cancelled: %w", ctx.Err())
		case <-time.After(s.poll):
		}

		token, ready, err := s.result(ctx, taskID)
		if err != nil {
			return "", err
		}
		if ready {
			s.log.Info("✅ challenge solved", zap.Duration("elapsed", time.Since(start).Round(time.Second)))
			return token, nil
		}
	}
}

func (s *Solver) submitParams(ch Challenge) (url.Values, error) {
	params := url.Values{
		"key":     {s.apiKey},
		"pageurl": {ch.PageURL},
		"json":    {"1"},
	}
	switch ch.Kind {
	case Turnstile:
		params.Set("method", "turnstile")
		params.Set("sitekey", ch.SiteKey)
	case RecaptchaV2:
		params.Set("method", "userrecaptcha")
		params.Set("googlekey", ch.SiteKey)
	case RecaptchaV3:
		params.Set("method", "userrecaptcha")
		params.Set("googlekey", ch.SiteKey)
		params.Set("version", "v3")
		params.Set("action", "login")
	case HCaptcha:
		params.Set("method", "hcaptcha")
		params.Set("sitekey", ch.SiteKey)
	default:
		return nil, fmt.Errorf("challenge type %s is not solvable", ch.Kind)
	}
	return params, nil
}

func (s *Solver) submit(ctx context.Context, params url.Values) (string, error) {
	resp, err := s.post(ctx, s.baseURL+"/in.php", params)
	if err != nil {
		return "", fmt.Errorf("failed to submit challenge: %w", err)
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("solver rejected challenge: %s", resp.Request)
	}
	return resp.Request, nil
}

func (s *Solver) result(ctx context.Context, taskID string) (string, bool, error) {
	params := url.Values{
		"key":    {s.apiKey},
		"action": {"get"},
		"id":     {taskID},
		"json":   {"1"},
	}
	resp, err := s.post(ctx, s.baseURL+"/res.php", params)
	if err != nil {
		return "", false, fmt.Errorf("failed to poll solver: %w", err)
	}
	if resp.Status == 1 {
		return resp.Request, true, nil
	}
	if resp.Request == "CAPCHA_NOT_READY" {
		return "", false, nil
	}
	return "", false, fmt.Errorf("solver failed: %s", resp.Request)
}

func (s *Solver) post(ctx context.Context, endpoint string, params url.Values) (*solverResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solver returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out solverResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode solver response: %w", err)
	}
	return &out, nil
}
