package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultPinataAPIURL  = "https://api.pinata.cloud"
	DefaultIPFSGateway   = "https://gateway.pinata.cloud"
	defaultClientTimeout = 60 * time.Second
)

// IPFSClient pins files through the Pinata API and reads them back through
// an IPFS gateway.
type IPFSClient interface {
	ContentStore
	Unpin(ctx context.Context, contentID string) error
}

// PinataConfig configures the Pinata client.
type PinataConfig struct {
	APIURL     string
	GatewayURL string
	JWT        string
	Timeout    time.Duration
}

// HTTPError is a non-2xx answer from a storage service.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return fmt.Sprintf("%s: storage service unavailable (HTTP %d): %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: storage request rejected (HTTP %d): %s", e.Op, e.StatusCode, e.Body)
}

type pinataClient struct {
	cfg        PinataConfig
	httpClient *http.Client
}

type pinFileResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func NewIPFSClient(cfg PinataConfig) IPFSClient {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultPinataAPIURL
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultIPFSGateway
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultClientTimeout
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	return &pinataClient{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (c *pinataClient) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	meta, _ := json.Marshal(map[string]interface{}{"name": name})
	if err := w.WriteField("pinataMetadata", string(meta)); err != nil {
		return "", err
	}
	if err := w.WriteField("pinataOptions", `{"cidVersion":0}`); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/pinning/pinFileToIPFS", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pin %s: %w", name, err)
	}
	defer resp.Body.Close()
	if err := checkStatus("pin "+name, resp); err != nil {
		return "", err
	}

	var out pinFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode pin response: %w", err)
	}
	return out.IpfsHash, nil
}

func (c *pinataClient) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.GatewayURL+"/ipfs/"+contentID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", contentID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
	}
	if err := checkStatus("fetch "+contentID, resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *pinataClient) Unpin(ctx context.Context, contentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.APIURL+"/pinning/unpin/"+contentID, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("unpin %s: %w", contentID, err)
	}
	defer resp.Body.Close()
	return checkStatus("unpin "+contentID, resp)
}

func (c *pinataClient) authorize(req *http.Request) {
	if c.cfg.JWT != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.JWT)
	}
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
