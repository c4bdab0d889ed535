package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
)

// userSelect lists the user attributes a refresh needs.
const userSelect = "id,displayName,jobTitle,department,mail,mobilePhone,officeLocation,employeeHireDate"

const (
	defaultPageSize    = 999
	defaultTimeout     = 30 * time.Second
	defaultRateLimit   = 5.0
	defaultBurst       = 2
	defaultMaxRetries  = 3
	defaultBaseBackoff = time.Second
	maxRetryAfter      = 30 * time.Second
	maxPages           = 10000
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/orgchart/internal/directory")

// ClientConfig configures the Graph client. Zero values take defaults; a
// negative MaxRetries disables retries.
type ClientConfig struct {
	GraphURL          string
	PageSize          int
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	BaseBackoff       time.Duration
	HTTPClient        *http.Client
}

// Client reads users from Microsoft Graph.
type Client struct {
	graphURL    *url.URL
	pageSize    int
	tokens      TokenProvider
	httpClient  *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	maxRetries  int
	baseBackoff time.Duration
	logger      *zap.Logger
}

// NewClient creates a Graph client.
func NewClient(tokens TokenProvider, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("token provider cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	base, err := url.Parse(strings.TrimRight(cfg.GraphURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid graph url %q", cfg.GraphURL)
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRateLimit
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		graphURL:    base,
		pageSize:    cfg.PageSize,
		tokens:      tokens,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), defaultBurst),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		logger:      logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "graph",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isRetryableError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.Set(float64(to))
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c, nil
}

// Fetch acquires a token and reads every page of users.
func (c *Client) Fetch(ctx context.Context) ([]orgchart.Record, error) {
	ctx, span := tracer.Start(ctx, "directory.Fetch")
	defer span.End()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token")
		return nil, err
	}

	var records []orgchart.Record
	cursor := ""
	for page := 1; ; page++ {
		if page > maxPages {
			return nil, ErrTooManyPages
		}
		p, err := c.FetchPage(ctx, token, cursor)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "page")
			return nil, fmt.Errorf("fetching page %d: %w", page, err)
		}
		records = append(records, p.Records...)
		c.logger.Debug("directory page fetched",
			zap.Int("page", page),
			zap.Int("records", len(p.Records)))
		if p.NextCursor == "" {
			span.SetAttributes(
				attribute.Int("directory.pages", page),
				attribute.Int("directory.records", len(records)))
			return records, nil
		}
		cursor = p.NextCursor
	}
}

// FirstPageURL returns the request for the first page of users.
func (c *Client) FirstPageURL() string {
	q := url.Values{}
	q.Set("$select", userSelect)
	q.Set("$expand", "manager($select=id,displayName)")
	q.Set("$top", strconv.Itoa(c.pageSize))
	return c.graphURL.String() + "/users?" + q.Encode()
}

// FetchPage reads the page at cursor, or the first page when cursor is
// empty. Rate limited, retried on throttling and server errors, and guarded
// by a circuit breaker.
func (c *Client) FetchPage(ctx context.Context, token, cursor string) (Page, error) {
	target := cursor
	if target == "" {
		target = c.FirstPageURL()
	} else if err := c.checkCursor(cursor); err != nil {
		return Page{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			var re *retryableError
			if errors.As(lastErr, &re) && re.retryAfter > 0 {
				backoff = re.retryAfter
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Page{}, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return Page{}, fmt.Errorf("rate limiter error: %w", err)
		}

		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doRequest(ctx, token, target)
		})
		if err == nil {
			return res.(Page), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Page{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		lastErr = err
		if !isRetryableError(err) {
			return Page{}, err
		}
		c.logger.Warn("directory request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return Page{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) checkCursor(cursor string) error {
	u, err := url.Parse(cursor)
	if err != nil || u.Scheme != c.graphURL.Scheme || u.Host != c.graphURL.Host {
		return ErrInvalidCursor
	}
	return nil
}

type graphUser struct {
	ID               string  `json:"id"`
	DisplayName      *string `json:"displayName"`
	JobTitle         *string `json:"jobTitle"`
	Department       *string `json:"department"`
	Mail             *string `json:"mail"`
	MobilePhone      *string `json:"mobilePhone"`
	OfficeLocation   *string `json:"officeLocation"`
	EmployeeHireDate *string `json:"employeeHireDate"`
	Manager          *struct {
		ID string `json:"id"`
	} `json:"manager"`
}

type graphPage struct {
	Value    []graphUser `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (u graphUser) record() orgchart.Record {
	rec := orgchart.Record{
		ID:         u.ID,
		Name:       deref(u.DisplayName),
		Title:      deref(u.JobTitle),
		Department: deref(u.Department),
		Email:      deref(u.Mail),
		Phone:      deref(u.MobilePhone),
		Location:   deref(u.OfficeLocation),
		HireDate:   deref(u.EmployeeHireDate),
	}
	if u.Manager != nil {
		rec.ManagerID = u.Manager.ID
	}
	return rec
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (c *Client) doRequest(ctx context.Context, token, target string) (Page, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, &retryableError{err: fmt.Errorf("graph request failed: %w", err)}
	}
	defer resp.Body.Close()
	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	requestDuration.Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Page{}, &retryableError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return Page{}, fmt.Errorf("%w: %s", ErrUnauthorized, graphMessage(body))
	case resp.StatusCode == http.StatusForbidden:
		return Page{}, fmt.Errorf("%w: %s", ErrForbidden, graphMessage(body))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Page{}, &retryableError{
			err:        fmt.Errorf("graph returned %d: %s", resp.StatusCode, graphMessage(body)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	default:
		return Page{}, fmt.Errorf("graph returned %d: %s", resp.StatusCode, graphMessage(body))
	}

	var gp graphPage
	if err := json.Unmarshal(body, &gp); err != nil {
		return Page{}, fmt.Errorf("failed to parse response: %w", err)
	}
	page := Page{Records: make([]orgchart.Record, 0, len(gp.Value)), NextCursor: gp.NextLink}
	for _, u := range gp.Value {
		page.Records = append(page.Records, u.record())
	}
	return page, nil
}

func graphMessage(body []byte) string {
	var ge graphError
	if err := json.Unmarshal(body, &ge); err == nil && ge.Error.Message != "" {
		return ge.Error.Code + ": " + ge.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

type retryableError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
