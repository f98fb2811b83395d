package linkblocks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// AddBookmarkRequest is the body of POST /api/add_bookmark.
type AddBookmarkRequest struct {
	APIKey string   `json:"api_key"`
	Tag    string   `json:"tag"`
	UserID string   `json:"user_id"`
	URLs   []string `json:"urls"`
}

// Client talks to the Linkblocks HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	log     logrus.FieldLogger
}

// NewClient creates a client for the Linkblocks instance at baseURL.
// A zero timeout leaves requests unbounded.
func NewClient(baseURL string, timeout time.Duration, logger logrus.FieldLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger.WithField("component", "linkblocks_client"),
	}
}

// AuthURL is the page a Discord user opens to issue an API key. Linkblocks
// redirects the browser to the callback endpoint with the new key.
func (c *Client) AuthURL(discordID string) string {
	return c.baseURL + "/api/get_key?id=" + url.QueryEscape(discordID)
}

// AddBookmarks imports req.URLs into the list named by req.Tag and returns
// the response status code. Only http.StatusOK means the import succeeded.
func (c *Client) AddBookmarks(ctx context.Context, req AddBookmarkRequest) (int, error) {
	log := c.log.WithFields(logrus.Fields{
		"user_id":   req.UserID,
		"tag":       req.Tag,
		"url_count": len(req.URLs),
	})

	if req.URLs == nil {
		req.URLs = []string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal add_bookmark request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/add_bookmark", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build add_bookmark request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.WithError(err).Error("add_bookmark request failed")
		return 0, fmt.Errorf("add_bookmark request failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	log.WithField("status", resp.StatusCode).Info("add_bookmark request finished")
	return resp.StatusCode, nil
}

// IsSuccess reports whether an add_bookmark status counts as a successful import.
func IsSuccess(status int) bool {
	return status == http.StatusOK
}
