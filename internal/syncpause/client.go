package syncpause

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"codeberg.org/mutker/powermon/internal/errors"
	"codeberg.org/mutker/powermon/internal/logger"
)

const (
	ErrConnection = errors.ErrorCode("syncpause_connection_failed")
	ErrAuth       = errors.ErrorCode("syncpause_invalid_api_key")
	ErrAPI        = errors.ErrorCode("syncpause_api_error")
)

const (
	requestTimeout = 5 * time.Second
	retryMax       = 2
)

// Client pauses and resumes the local Syncthing device through its REST
// API. It is an external integration: the core loops never call it, the
// shell does, on demand.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client

	mu       sync.Mutex
	deviceID string
}

func New(baseURL, apiKey string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = retryMax
	httpClient.HTTPClient.Timeout = requestTimeout
	httpClient.Logger = nil

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

// DeviceID returns the local device ID, fetching and caching it on first
// use.
func (c *Client) DeviceID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deviceID != "" {
		return c.deviceID, nil
	}

	body, err := c.request(http.MethodGet, "/rest/system/status", nil)
	if err != nil {
		return "", err
	}

	var status struct {
		MyID string `json:"myID"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return "", errors.New().Wrap(ErrAPI, err)
	}
	if status.MyID == "" {
		return "", errors.New().WithMessage(ErrAPI, "could not retrieve device ID")
	}

	c.deviceID = status.MyID
	logger.Debug().Str("device_id", c.deviceID).Msg("Retrieved Syncthing device ID")

	return c.deviceID, nil
}

// Pause pauses sync for the local device.
func (c *Client) Pause() error {
	return c.deviceAction("pause")
}

// Resume resumes sync for the local device.
func (c *Client) Resume() error {
	return c.deviceAction("resume")
}

func (c *Client) deviceAction(action string) error {
	deviceID, err := c.DeviceID()
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("/rest/system/%s?device=%s", action, url.QueryEscape(deviceID))
	if _, err := c.request(http.MethodPost, endpoint, nil); err != nil {
		return err
	}

	logger.Info().Str("action", action).Msg("Syncthing sync state changed")

	return nil
}

func (c *Client) request(method, endpoint string, body []byte) ([]byte, error) {
	errFactory := errors.New()

	req, err := retryablehttp.NewRequest(method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, errFactory.Wrap(ErrConnection, err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errFactory.WithMessage(ErrConnection,
			"could not connect to Syncthing, is it running?").WithData(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, errFactory.New(ErrAuth)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, errFactory.WithData(ErrAPI, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errFactory.Wrap(ErrConnection, err)
	}

	return data, nil
}
