// ABOUTME: Compute provisioner contract and the Hypercore HTTP client implementing it
// ABOUTME: Spawns a container sized to a tier and stops it again by id

package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Provisioner errors.
var (
	ErrSpawnFailed = errors.New("spawn failed")
	ErrStopFailed  = errors.New("stop failed")
)

// SpawnRequest describes the compute instance to create.
type SpawnRequest struct {
	ImageRef string         `json:"image_ref"`
	Cores    int            `json:"cores"`
	MemoryMB int            `json:"memory"`
	Ports    map[string]int `json:"ports"`
	Env      []string       `json:"env"`
}

// Handle identifies a provisioned instance.
type Handle struct {
	ID  string
	URL string
}

// Provisioner creates and destroys compute instances.
type Provisioner interface {
	Spawn(ctx context.Context, req *SpawnRequest) (*Handle, error)
	Stop(ctx context.Context, id string) error
}

// HypercoreClient talks to the Hypercore spawn API.
type HypercoreClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewHypercoreClient creates a client for the Hypercore API at baseURL.
// Every call is bounded by timeout when it is positive.
func NewHypercoreClient(baseURL string, timeout time.Duration, httpClient *http.Client) *HypercoreClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HypercoreClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
	}
}

func (c *HypercoreClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Spawn asks Hypercore for a new instance.
func (c *HypercoreClient) Spawn(ctx context.Context, req *SpawnRequest) (*Handle, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrSpawnFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/spawn", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrSpawnFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(data, "error").String()
		if msg == "" {
			msg = fmt.Sprintf("hypercore returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", ErrSpawnFailed, msg)
	}

	id := gjson.GetBytes(data, "response.id").String()
	if id == "" {
		return nil, fmt.Errorf("%w: response has no instance id", ErrSpawnFailed)
	}
	return &Handle{
		ID:  id,
		URL: gjson.GetBytes(data, "response.url").String(),
	}, nil
}

// Stop asks Hypercore to tear down the instance with the given id.
func (c *HypercoreClient) Stop(ctx context.Context, id string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stop?id="+url.QueryEscape(id), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStopFailed, err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStopFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: hypercore returned status %d", ErrStopFailed, resp.StatusCode)
	}
	return nil
}
