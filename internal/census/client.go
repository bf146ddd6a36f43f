package census

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client fetches population marginals from a census-style service. The
// endpoint contract is a plain JSON API; which census product backs it is a
// deployment concern.
type Client interface {
	GetMarginals(ctx context.Context, variables []string) (map[string]map[string]float64, error)
	ListVariables(ctx context.Context) ([]string, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) doReq(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("census %s %s: %d %s", method, path, resp.StatusCode, string(body))
	}
	return body, nil
}

type marginalsResponse struct {
	Variables map[string]map[string]float64 `json:"variables"`
}

// GetMarginals returns target proportions for the named variables, or for
// every variable the service publishes when none are named.
func (c *HTTPClient) GetMarginals(ctx context.Context, variables []string) (map[string]map[string]float64, error) {
	path := "/v1/marginals"
	if len(variables) > 0 {
		path += "?variables=" + url.QueryEscape(strings.Join(variables, ","))
	}
	data, err := c.doReq(ctx, "GET", path)
	if err != nil {
		return nil, err
	}
	var resp marginalsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if len(resp.Variables) == 0 {
		return nil, fmt.Errorf("census returned no marginals")
	}
	return resp.Variables, nil
}

func (c *HTTPClient) ListVariables(ctx context.Context) ([]string, error) {
	data, err := c.doReq(ctx, "GET", "/v1/variables")
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, err
	}
	return names, nil
}
