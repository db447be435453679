package compassone

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Parameter locations within a wire request.
const (
	InPath  = "path"
	InQuery = "query"
)

// maxResponseBytes bounds how much of a response body the mapper will read.
const maxResponseBytes = 16 << 20

// ParamSpec declares one parameter of an operation. Pattern, when set, is a
// full-match regular expression the value must satisfy.
type ParamSpec struct {
	Name     string
	In       string
	Required bool
	Pattern  *regexp.Regexp
}

// Operation describes a typed API call: the wire shape plus its declared
// parameters. Operations are package-level values; callers pass them to
// Invoke or use the typed helpers on Client.
type Operation struct {
	Name      string
	Method    string
	Path      string // path params in {braces}, e.g. "/assets/{assetId}"
	Paginated bool
	HasBody   bool
	Params    []ParamSpec
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// The operation catalog. Kept to the shapes needed to exercise the client:
// point reads, paginated lists and one mutating call.
var (
	OpAssetGet = Operation{
		Name:   "assets.get",
		Method: http.MethodGet,
		Path:   "/assets/{assetId}",
		Params: []ParamSpec{
			{Name: "assetId", In: InPath, Required: true, Pattern: idPattern},
		},
	}

	OpAssetList = Operation{
		Name:      "assets.list",
		Method:    http.MethodGet,
		Path:      "/assets",
		Paginated: true,
		Params: []ParamSpec{
			{Name: "status", In: InQuery},
			{Name: "pageSize", In: InQuery, Pattern: regexp.MustCompile(`^\d{1,4}$`)},
		},
	}

	OpFindingGet = Operation{
		Name:   "findings.get",
		Method: http.MethodGet,
		Path:   "/findings/{findingId}",
		Params: []ParamSpec{
			{Name: "findingId", In: InPath, Required: true, Pattern: idPattern},
		},
	}

	OpFindingList = Operation{
		Name:      "findings.list",
		Method:    http.MethodGet,
		Path:      "/findings",
		Paginated: true,
		Params: []ParamSpec{
			{Name: "severity", In: InQuery, Pattern: regexp.MustCompile(`^(low|medium|high|critical)$`)},
			{Name: "assetId", In: InQuery, Pattern: idPattern},
			{Name: "pageSize", In: InQuery, Pattern: regexp.MustCompile(`^\d{1,4}$`)},
		},
	}

	OpIncidentGet = Operation{
		Name:   "incidents.get",
		Method: http.MethodGet,
		Path:   "/incidents/{incidentId}",
		Params: []ParamSpec{
			{Name: "incidentId", In: InPath, Required: true, Pattern: idPattern},
		},
	}

	OpIncidentCreate = Operation{
		Name:    "incidents.create",
		Method:  http.MethodPost,
		Path:    "/incidents",
		HasBody: true,
	}
)

// Asset is a monitored endpoint or host.
type Asset struct {
	ID         string    `json:"id"`
	Hostname   string    `json:"hostname"`
	IPAddress  string    `json:"ipAddress"`
	OS         string    `json:"os"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Finding is a normalized security finding attached to an asset.
type Finding struct {
	ID          string    `json:"id"`
	AssetID     string    `json:"assetId"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
	Title       string    `json:"title"`
	Evidence    string    `json:"evidence"`
	RaisedAt    time.Time `json:"raisedAt"`
	Remediation string    `json:"remediation,omitempty"`
}

// Incident groups related findings under an investigation.
type Incident struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Severity   string    `json:"severity"`
	Status     string    `json:"status"`
	FindingIDs []string  `json:"findingIds,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Request is one invocation of an operation: the parameters, optional JSON
// body, pagination token and an optional timeout override.
type Request struct {
	Operation Operation
	Params    map[string]string
	Body      any
	PageToken string
	Timeout   time.Duration // zero means the configured default
}

// Result is a mapped API response. Single resources arrive in Data;
// paginated lists arrive in Items with a continuation token.
type Result struct {
	StatusCode    int
	RequestID     string
	Data          json.RawMessage
	Items         []json.RawMessage
	NextPageToken string
}

// Decode unmarshals the single-resource payload into v.
func (r *Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return newError(ErrorTypeFatal, "response has no payload", nil)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return newError(ErrorTypeFatal, "decoding response payload", err)
	}
	return nil
}

// DecodeItems unmarshals every list item into a slice of T.
func DecodeItems[T any](r *Result) ([]T, error) {
	out := make([]T, 0, len(r.Items))
	for i, raw := range r.Items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, newError(ErrorTypeFatal, fmt.Sprintf("decoding list item %d", i), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// listEnvelope is the wire shape of paginated responses. The continuation
// token is an opaque string; absence means the last page.
type listEnvelope struct {
	Items         []json.RawMessage `json:"items"`
	NextPageToken string            `json:"nextPageToken"`
}

// errorEnvelope is the wire shape of error responses, best effort.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// validateParams checks a request's parameters against the operation's
// declared shape. Violations are ClientError and never reach the transport.
func validateParams(op Operation, params map[string]string) error {
	declared := make(map[string]ParamSpec, len(op.Params))
	for _, spec := range op.Params {
		declared[spec.Name] = spec
	}

	for name := range params {
		if _, ok := declared[name]; !ok {
			return newError(ErrorTypeClient, fmt.Sprintf("operation %s does not accept parameter %q", op.Name, name), nil)
		}
	}

	for _, spec := range op.Params {
		value, present := params[spec.Name]
		if !present || value == "" {
			if spec.Required {
				return newError(ErrorTypeClient, fmt.Sprintf("operation %s requires parameter %q", op.Name, spec.Name), nil)
			}
			continue
		}
		if spec.Pattern != nil && !spec.Pattern.MatchString(value) {
			return newError(ErrorTypeClient, fmt.Sprintf("parameter %q value %q is malformed", spec.Name, value), nil)
		}
	}

	return nil
}

// buildRequest translates a Request into a wire request with auth attached.
// The request is rebuilt from scratch for every attempt, so bodies are
// marshaled fresh and nothing from a failed attempt carries over.
func buildRequest(cfg Config, cred Credential, r Request) (*http.Request, error) {
	op := r.Operation
	if op.Name == "" || op.Method == "" || op.Path == "" {
		return nil, newError(ErrorTypeClient, "request has no operation", nil)
	}
	if err := validateParams(op, r.Params); err != nil {
		return nil, err
	}

	path := op.Path
	query := url.Values{}
	for _, spec := range op.Params {
		value, ok := r.Params[spec.Name]
		if !ok || value == "" {
			continue
		}
		switch spec.In {
		case InPath:
			path = strings.ReplaceAll(path, "{"+spec.Name+"}", url.PathEscape(value))
		case InQuery:
			query.Set(spec.Name, value)
		}
	}
	if op.Paginated && r.PageToken != "" {
		query.Set("pageToken", r.PageToken)
	}

	target := strings.TrimRight(cfg.Endpoint, "/") + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	var body io.Reader
	if op.HasBody {
		if r.Body == nil {
			return nil, newError(ErrorTypeClient, fmt.Sprintf("operation %s requires a body", op.Name), nil)
		}
		payload, err := json.Marshal(r.Body)
		if err != nil {
			return nil, newError(ErrorTypeClient, "marshaling request body", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(op.Method, target, body)
	if err != nil {
		return nil, newError(ErrorTypeClient, "constructing request", err)
	}

	req.Header.Set("Accept", "application/json")
	if op.HasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "compassone-go/"+Version)
	req.Header.Set("X-Api-Version", cfg.APIVersion)

	switch cfg.AuthScheme {
	case AuthSchemeAPIKey:
		req.Header.Set("X-Api-Key", cred.Value)
	default:
		req.Header.Set("Authorization", "Bearer "+cred.Value)
	}

	return req, nil
}

// mapResponse inspects status code and payload shape, producing either a
// Result or a classified error. The response body is fully consumed.
func mapResponse(resp *http.Response) (*Result, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, newError(ErrorTypeTransient, "reading response body", err)
	}

	requestID := resp.Header.Get("X-Request-Id")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result := &Result{
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
		}
		if len(body) == 0 {
			return result, nil
		}

		var envelope listEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, &APIError{
				Type:       ErrorTypeFatal,
				Message:    "response payload is not valid JSON",
				Cause:      err,
				StatusCode: resp.StatusCode,
				RequestID:  requestID,
				Timestamp:  time.Now(),
			}
		}
		if envelope.Items != nil {
			result.Items = envelope.Items
			result.NextPageToken = envelope.NextPageToken
		} else {
			result.Data = body
		}
		return result, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &APIError{
			Type:       ErrorTypeRateLimited,
			Message:    "rate limited by upstream",
			Cause:      ErrRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			RequestID:  requestID,
			Timestamp:  time.Now(),
		}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &APIError{
			Type:       ErrorTypeAuthFailure,
			Message:    "authentication rejected",
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
			Timestamp:  time.Now(),
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &APIError{
			Type:       ErrorTypeClient,
			Message:    upstreamMessage(body, resp.StatusCode),
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
			Timestamp:  time.Now(),
		}

	case resp.StatusCode >= 500:
		return nil, &APIError{
			Type:       ErrorTypeTransient,
			Message:    upstreamMessage(body, resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			RequestID:  requestID,
			Timestamp:  time.Now(),
		}

	default:
		return nil, &APIError{
			Type:       ErrorTypeFatal,
			Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
			Timestamp:  time.Now(),
		}
	}
}

// upstreamMessage extracts the server's error message when the body carries
// the documented error envelope, falling back to the status text.
func upstreamMessage(body []byte, statusCode int) string {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		if envelope.Error.Code != "" {
			return fmt.Sprintf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return envelope.Error.Message
	}
	return fmt.Sprintf("upstream returned %d %s", statusCode, http.StatusText(statusCode))
}
