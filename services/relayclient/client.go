// Package relayclient talks to one of a set of relay servers over HTTP and
// websocket.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"relay/helpers"
	"relay/internals/models"
	"strconv"
	"strings"
	"sync"
	"time"
)

const apiKeyHeader = "x-api-key"

// ErrNoNode is returned when none of the known nodes answered.
var ErrNoNode = errors.New("failed to connect to any node")

type Client struct {
	mu          sync.RWMutex
	KnownNodes  []string
	CurrentNode string

	apiKey  string
	http    *http.Client
	checker *helpers.ConnectionChecker
}

func NewClient(nodes []string, apiKey string) *Client {
	normalized := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if node = normalizeNode(node); node != "" {
			normalized = append(normalized, node)
		}
	}
	return &Client{
		KnownNodes: normalized,
		apiKey:     apiKey,
		http:       &http.Client{Timeout: 30 * time.Second},
		checker:    helpers.NewConnectionChecker(),
	}
}

func normalizeNode(node string) string {
	node = strings.TrimRight(strings.TrimSpace(node), "/")
	if node == "" {
		return ""
	}
	if !strings.Contains(node, "://") {
		node = "http://" + node
	}
	return node
}

func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// Connect picks the first known node that answers its liveness route.
func (c *Client) Connect(ctx context.Context) error {
	for _, node := range c.KnownNodes {
		if err := c.checker.CheckConnection(ctx, nodePinger{client: c, node: node}); err == nil {
			c.mu.Lock()
			c.CurrentNode = node
			c.mu.Unlock()
			return nil
		}
	}
	return ErrNoNode
}

func (c *Client) node() (string, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.CurrentNode == "" {
		return "", "", fmt.Errorf("relayclient: not connected")
	}
	return c.CurrentNode, c.apiKey, nil
}

// Ping checks the current node.
func (c *Client) Ping(ctx context.Context) error {
	node, _, err := c.node()
	if err != nil {
		return err
	}
	return c.ping(ctx, node)
}

func (c *Client) ping(ctx context.Context, node string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping %s: status %d", node, resp.StatusCode)
	}
	return nil
}

type nodePinger struct {
	client *Client
	node   string
}

func (p nodePinger) Ping(ctx context.Context) error {
	return p.client.ping(ctx, p.node)
}

func (c *Client) Fetch(ctx context.Context, since *int64) ([]models.Message, error) {
	path := "/message"
	if since != nil {
		path += "?since=" + url.QueryEscape(strconv.FormatInt(*since, 10))
	}
	var messages []models.Message
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) Send(ctx context.Context, draft models.Draft) (models.Message, error) {
	body := map[string]any{
		"level":   int(draft.Level),
		"title":   draft.Title,
		"content": draft.Content,
	}
	var resp struct {
		Data models.Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/message/send", body, http.StatusCreated, &resp); err != nil {
		return models.Message{}, err
	}
	return resp.Data, nil
}

func (c *Client) Delete(ctx context.Context, ref models.MessageRef) (int, error) {
	body := map[string]any{"identifier": ref.Id, "timestamp": ref.Timestamp}
	if ref.ByNonce {
		body = map[string]any{"messageNonceToRemove": ref.Nonce, "timestampToRemove": ref.Timestamp}
	}
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodPost, "/message/delete", body, http.StatusCreated, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// DownloadKey fetches the server key through the unauthenticated bootstrap route.
func (c *Client) DownloadKey(ctx context.Context) (string, error) {
	node, _, err := c.node()
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node+"/downloadKey", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, wantStatus int, out any) error {
	node, key, err := c.node()
	if err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, node+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(apiKeyHeader, key)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
