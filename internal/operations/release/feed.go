package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/httputil"
	"github.com/CloudNativeWorks/ilog/internal/operations/common"
	"github.com/CloudNativeWorks/ilog/pkg/logger"
	"github.com/sony/gobreaker"
)

const (
	DefaultBaseURL   = "https://api.github.com"
	DefaultTimeout   = 20 * time.Second
	maxFeedBodyBytes = 5 << 20
)

// FeedClient fetches the latest release of one repository.
type FeedClient struct {
	httpClient *http.Client
	baseURL    string
	owner      string
	repo       string
	token      string
	userAgent  string
	timeout    time.Duration
	retry      httputil.RetryConfig
	breaker    *gobreaker.CircuitBreaker
	logger     *logger.Logger
}

// Option configures a FeedClient.
type Option func(*FeedClient)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *FeedClient) { f.httpClient = c }
}

// WithBaseURL points the client at another API host.
func WithBaseURL(u string) Option {
	return func(f *FeedClient) { f.baseURL = strings.TrimRight(u, "/") }
}

// WithToken sends "Authorization: token <t>" when t is not empty.
func WithToken(t string) Option {
	return func(f *FeedClient) { f.token = t }
}

// WithTimeout bounds a whole fetch including retries.
func WithTimeout(d time.Duration) Option {
	return func(f *FeedClient) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg httputil.RetryConfig) Option {
	return func(f *FeedClient) { f.retry = cfg }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *FeedClient) { f.userAgent = ua }
}

// NewFeedClient creates a client for github.com/{owner}/{repo}.
func NewFeedClient(owner, repo string, opts ...Option) *FeedClient {
	f := &FeedClient{
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		owner:      owner,
		repo:       repo,
		userAgent:  "ilog-updater",
		timeout:    DefaultTimeout,
		retry:      httputil.DefaultRetryConfig(),
		logger:     logger.NewLogger("release-feed"),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "release-feed",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// Only an unreachable or failing host should open the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, common.ErrNetwork)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			f.logger.Warnf("Circuit breaker %s changed from %v to %v", name, from, to)
		},
	})

	return f
}

// LatestReleaseURL is the endpoint queried by FetchLatestRelease.
func (f *FeedClient) LatestReleaseURL() string {
	return fmt.Sprintf("%s/repos/%s/%s/releases/latest", f.baseURL, f.owner, f.repo)
}

// FetchLatestRelease returns the latest release. Errors are of kind
// common.ErrNetwork or common.ErrDecode.
func (f *FeedClient) FetchLatestRelease(ctx context.Context) (*ReleaseInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, common.NetworkError("fetch latest release", err)
		}
		return nil, err
	}

	info := result.(*ReleaseInfo)
	f.logger.WithFields(logger.Fields{
		"tag":    info.Tag,
		"assets": len(info.Assets),
	}).Info("Fetched latest release")
	return info, nil
}

func (f *FeedClient) fetch(ctx context.Context) (*ReleaseInfo, error) {
	url := f.LatestReleaseURL()
	f.logger.WithField("url", url).Debug("Fetching latest release")

	headers := http.Header{}
	headers.Set("Accept", "application/vnd.github+json")
	headers.Set("User-Agent", f.userAgent)
	if f.token != "" {
		headers.Set("Authorization", "token "+f.token)
	}

	resp, err := httputil.Get(ctx, f.httpClient, url, headers, f.retry)
	if err != nil {
		f.logger.WithError(err).Error("Failed to fetch latest release")
		return nil, common.NetworkError("fetch latest release", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, common.NetworkError("fetch latest release", fmt.Errorf("rate limited until %s", resp.Header.Get("X-RateLimit-Reset")))
	case resp.StatusCode == http.StatusNotFound:
		return nil, common.NetworkError("fetch latest release", fmt.Errorf("no published release for %s/%s", f.owner, f.repo))
	default:
		return nil, common.NetworkError("fetch latest release", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodyBytes))
	if err != nil {
		return nil, common.NetworkError("read release body", err)
	}

	var payload githubRelease
	if err := json.Unmarshal(body, &payload); err != nil {
		f.logger.WithError(err).Error("Failed to decode release")
		return nil, common.DecodeError("decode release", err)
	}
	if strings.TrimSpace(payload.TagName) == "" {
		return nil, common.DecodeError("decode release", errors.New("missing tag_name"))
	}

	return payload.toReleaseInfo(), nil
}
