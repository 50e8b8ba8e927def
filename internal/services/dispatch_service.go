package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sunagi/homare/internal/backoff"
	"github.com/sunagi/homare/internal/metrics"
	"github.com/sunagi/homare/internal/ratelimit"
	"github.com/sunagi/homare/pkg/domain"
)

// DispatchService pushes verification requests to the registered verifier's
// callback endpoint. Delivery is fire-and-forget from the caller's point of
// view; retries happen on a background goroutine.
type DispatchService interface {
	Dispatch(ctx context.Context, v domain.Verifier, req domain.VerificationRequest)
}

type dispatchService struct {
	logger      *slog.Logger
	secret      string
	maxAttempts int
	baseSeconds int
	maxSeconds  int
	policy      string

	limiter ratelimit.Limiter
	bucket  ratelimit.Bucket

	client *http.Client
	rng    *rand.Rand
}

func NewDispatchService(logger *slog.Logger, secret string, maxAttempts, baseSeconds, maxSeconds int, policy string, limiter ratelimit.Limiter, bucket ratelimit.Bucket) DispatchService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseSeconds <= 0 {
		baseSeconds = 2
	}
	if maxSeconds <= 0 {
		maxSeconds = 60
	}
	if policy == "" {
		policy = backoff.PolicyExpEqualJitter
	}
	return &dispatchService{
		logger:      logger,
		secret:      secret,
		maxAttempts: maxAttempts,
		baseSeconds: baseSeconds,
		maxSeconds:  maxSeconds,
		policy:      policy,
		limiter:     limiter,
		bucket:      bucket,
		client:      &http.Client{Timeout: 15 * time.Second},
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *dispatchService) Dispatch(ctx context.Context, v domain.Verifier, req domain.VerificationRequest) {
	if strings.TrimSpace(v.CallbackURL) == "" {
		metrics.VerifierDispatchTotal.WithLabelValues(string(req.Category), "skipped").Inc()
		return
	}
	payload := map[string]any{
		"requestId":   req.ID,
		"taskId":      req.TaskID,
		"participant": req.Participant,
		"category":    string(req.Category),
		"proof":       req.Proof,
		"verdictUrl":  fmt.Sprintf("/v1/homare/verdicts/%d", req.ID),
		"sentAt":      time.Now().UTC().Format(time.RFC3339),
	}
	b, _ := json.Marshal(payload)

	// The submission's HTTP context dies with the response; deliver on a
	// detached context so retries survive the originating request.
	go s.sendWithRetry(context.Background(), v, req, b)
}

func (s *dispatchService) sendWithRetry(ctx context.Context, v domain.Verifier, vr domain.VerificationRequest, body []byte) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if s.limiter != nil && s.bucket.Enabled() {
			for {
				dec, err := s.limiter.Allow(ctx, "dispatch", v.CallbackURL, s.bucket)
				if err != nil {
					// Fail open.
					break
				}
				if dec.Allowed {
					break
				}
				metrics.RateLimitHitsTotal.WithLabelValues("dispatch", "verifier_push").Inc()
				if sleepOrDone(ctx, dec.RetryAfter) != nil {
					return
				}
			}
		}

		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, v.CallbackURL, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		if vr.TraceParent != "" {
			req.Header.Set("traceparent", vr.TraceParent)
			if vr.TraceState != "" {
				req.Header.Set("tracestate", vr.TraceState)
			}
		}
		s.addSignature(req, body)
		resp, err := s.client.Do(req)
		if err == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_ = resp.Body.Close()
			metrics.VerifierDispatchTotal.WithLabelValues(string(vr.Category), "success").Inc()
			return
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		delay := time.Duration(backoff.Compute(s.policy, s.baseSeconds, s.maxSeconds, attempt-1, s.rng)) * time.Second
		if sleepOrDone(ctx, delay) != nil {
			return
		}
	}
	metrics.VerifierDispatchTotal.WithLabelValues(string(vr.Category), "failure").Inc()
	s.logger.Warn("verifier dispatch exhausted", "requestId", vr.ID, "verifier", v.Identity, "url", v.CallbackURL)
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *dispatchService) addSignature(req *http.Request, body []byte) {
	if strings.TrimSpace(s.secret) == "" {
		return
	}
	ts := time.Now().UTC().Unix()
	mac := hmac.New(sha256.New, []byte(s.secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	_, _ = mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))
	req.Header.Set("X-Homare-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Homare-Signature", sig)
}
