package compassone

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Client is the facade composing credential resolution, the retry
// controller, the rate-limited transport and the response mapper. It is safe
// for concurrent use; create one per endpoint and share it.
type Client struct {
	cfg       Config
	policy    RetryPolicy
	transport *transport
	creds     *CredentialCache
	store     SecretStore
	breaker   *CircuitBreaker
	budget    *RetryBudget

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig

	closed atomic.Bool
}

// Connect validates cfg and constructs a Client. Invalid configuration
// fails with ConfigurationError before anything touches the network; no
// credential is fetched until the first Invoke.
func Connect(cfg Config, options ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		policy:    cfg.retryPolicy(),
		transport: newTransport(),
		logger:    NoopLogger{},
		debug:     DefaultDebugConfig(),
	}

	for _, option := range options {
		option(c)
	}

	if err := c.policy.Validate(); err != nil {
		return nil, err
	}

	if c.store == nil {
		c.store = NewEnvSecretStore("")
	}
	if c.creds == nil {
		c.creds = NewCredentialCache(c.store, cfg.CredentialName)
	}

	c.creds.metrics = c.metrics
	c.creds.logger = c.logger
	c.creds.debug = c.debug
	c.transport.metrics = c.metrics
	c.transport.logger = c.logger
	c.transport.debug = c.debug

	return c, nil
}

// Invoke executes one operation with the full retry/credential contract.
// Every attempt rebuilds the wire request from r, resolves a current
// credential and performs exactly one transport round trip.
func (c *Client) Invoke(ctx context.Context, r Request) (*Result, error) {
	if c.closed.Load() {
		return nil, newError(ErrorTypeConfiguration, "invoke on disconnected client", ErrClientClosed)
	}

	op := r.Operation
	start := time.Now()

	var requestID string
	if c.debug != nil && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}
	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests {
		c.logger.Debug("Starting invocation", "requestID", requestID, "operation", op.Name)
	}

	if c.metrics != nil {
		c.metrics.RecordRequestStart(op.Name)
		defer c.metrics.RecordRequestEnd(op.Name)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout()
	}

	// The credential attached by the most recent attempt; the controller
	// invalidates exactly this one on an auth failure.
	var attemptCred Credential

	controller := newRetryController(c.policy)
	controller.budget = c.budget
	controller.metrics = c.metrics
	controller.logger = c.logger
	controller.debug = c.debug
	controller.invalidate = func() {
		c.creds.Invalidate(attemptCred)
	}

	result, err := controller.Execute(ctx, op.Name, func(ctx context.Context, attempt int) (*Result, error) {
		cred, cerr := c.creds.Resolve(ctx)
		if cerr != nil {
			return nil, cerr
		}
		attemptCred = cred

		httpReq, berr := buildRequest(c.cfg, cred, r)
		if berr != nil {
			return nil, berr
		}
		httpReq = httpReq.WithContext(ctx)

		if c.breaker != nil && !c.breaker.Allow() {
			if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit {
				c.logger.Warn("Circuit breaker open", "requestID", requestID, "operation", op.Name)
			}
			if c.metrics != nil {
				c.metrics.RecordError(ErrorTypeCircuitOpen, op.Name)
			}
			return nil, newError(ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen)
		}

		resp, serr := c.transport.Send(httpReq, timeout)
		if serr != nil {
			c.recordOutcome(op.Name, serr, true)
			return nil, serr
		}

		mapped, merr := mapResponse(resp)
		c.recordOutcome(op.Name, merr, resp.StatusCode >= 500)
		if merr != nil {
			return nil, merr
		}
		mapped.RequestID = firstNonEmpty(mapped.RequestID, requestID)
		return mapped, nil
	})

	duration := time.Since(start)
	if c.metrics != nil {
		status := 0
		if result != nil {
			status = result.StatusCode
		}
		c.metrics.RecordRequest(op.Name, status, duration)
	}

	if err != nil {
		if apiErr, ok := err.(*APIError); ok {
			apiErr.RequestID = firstNonEmpty(apiErr.RequestID, requestID)
			apiErr.Duration = duration
		}
		return nil, err
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests {
		c.logger.Debug("Invocation complete", "requestID", requestID, "operation", op.Name, "duration", duration)
	}
	return result, nil
}

// recordOutcome feeds the circuit breaker and error metrics for one attempt.
func (c *Client) recordOutcome(operation string, err error, upstreamFault bool) {
	if c.breaker != nil {
		if err != nil && upstreamFault {
			c.breaker.RecordFailure()
		} else if err == nil {
			c.breaker.RecordSuccess()
		}
		if c.metrics != nil {
			c.metrics.RecordCircuitBreakerState(c.breaker.State())
		}
	}
	if err != nil && c.metrics != nil {
		c.metrics.RecordError(errorType(err), operation)
	}
}

// Pages returns a lazy pager over a paginated operation. The pager is not
// safe for concurrent use; create one per traversal. Restarting means
// constructing a new pager, which begins again from the first page.
func (c *Client) Pages(op Operation, params map[string]string) *Pager {
	return &Pager{client: c, req: Request{Operation: op, Params: params}}
}

// Pager walks a paginated operation one page at a time.
type Pager struct {
	client  *Client
	req     Request
	token   string
	started bool
	done    bool
}

// More reports whether another page may be available.
func (p *Pager) More() bool {
	return !p.done
}

// Next fetches the next page. Each page fetch independently runs the full
// retry/backoff/credential contract.
func (p *Pager) Next(ctx context.Context) (*Result, error) {
	if p.done {
		return nil, newError(ErrorTypeClient, "pager is exhausted", nil)
	}

	req := p.req
	req.PageToken = p.token

	result, err := p.client.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	p.started = true
	p.token = result.NextPageToken
	if p.token == "" {
		p.done = true
	}
	return result, nil
}

// Disconnect releases cached credentials and pooled connections. Idempotent;
// subsequent Invoke calls fail with ConfigurationError.
func (c *Client) Disconnect() {
	if c.closed.Swap(true) {
		return
	}
	c.creds.Release()
	c.transport.CloseIdleConnections()
	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests {
		c.logger.Debug("Client disconnected", "endpoint", c.cfg.Endpoint)
	}
}

// GetAsset fetches a single asset by ID.
func (c *Client) GetAsset(ctx context.Context, assetID string) (*Asset, error) {
	result, err := c.Invoke(ctx, Request{
		Operation: OpAssetGet,
		Params:    map[string]string{"assetId": assetID},
	})
	if err != nil {
		return nil, err
	}
	var asset Asset
	if err := result.Decode(&asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// ListAssets walks every page of the asset inventory.
func (c *Client) ListAssets(ctx context.Context, params map[string]string) ([]Asset, error) {
	return collectPages[Asset](ctx, c.Pages(OpAssetList, params))
}

// GetFinding fetches a single finding by ID.
func (c *Client) GetFinding(ctx context.Context, findingID string) (*Finding, error) {
	result, err := c.Invoke(ctx, Request{
		Operation: OpFindingGet,
		Params:    map[string]string{"findingId": findingID},
	})
	if err != nil {
		return nil, err
	}
	var finding Finding
	if err := result.Decode(&finding); err != nil {
		return nil, err
	}
	return &finding, nil
}

// ListFindings walks every page of findings matching params.
func (c *Client) ListFindings(ctx context.Context, params map[string]string) ([]Finding, error) {
	return collectPages[Finding](ctx, c.Pages(OpFindingList, params))
}

// GetIncident fetches a single incident by ID.
func (c *Client) GetIncident(ctx context.Context, incidentID string) (*Incident, error) {
	result, err := c.Invoke(ctx, Request{
		Operation: OpIncidentGet,
		Params:    map[string]string{"incidentId": incidentID},
	})
	if err != nil {
		return nil, err
	}
	var incident Incident
	if err := result.Decode(&incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

// CreateIncident opens a new incident.
func (c *Client) CreateIncident(ctx context.Context, incident Incident) (*Incident, error) {
	result, err := c.Invoke(ctx, Request{
		Operation: OpIncidentCreate,
		Body:      incident,
	})
	if err != nil {
		return nil, err
	}
	var created Incident
	if err := result.Decode(&created); err != nil {
		return nil, err
	}
	return &created, nil
}

func collectPages[T any](ctx context.Context, pager *Pager) ([]T, error) {
	var all []T
	for pager.More() {
		page, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}
		items, err := DecodeItems[T](page)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Endpoint returns the configured API base URL.
func (c *Client) Endpoint() string { return c.cfg.Endpoint }

// String identifies the client without leaking credentials.
func (c *Client) String() string {
	return fmt.Sprintf("compassone.Client(%s, v%s)", c.cfg.Endpoint, c.cfg.APIVersion)
}
