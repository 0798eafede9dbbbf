package jellyseerrhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment"
	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:5055"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type respMedia struct {
	Status int     `json:"status"`
	TmdbID uint64  `json:"tmdbId"`
	Title  string  `json:"title,omitempty"`
	Year   *string `json:"year,omitempty"`
}

type respRequest struct {
	ID        uint64    `json:"id"`
	Status    int       `json:"status"`
	Media     respMedia `json:"media"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Коды статусов Jellyseerr для media.status.
// 1 unknown, 2 pending, 3 processing, 4 partially available, 5 available.
func normalizeMediaStatus(requestStatus, mediaStatus int) string {
	// request.status: 1 pending approval, 2 approved, 3 declined.
	if requestStatus == 3 {
		return models.RemoteStatusDeclined
	}
	switch mediaStatus {
	case 5:
		return models.RemoteStatusAvailable
	case 4:
		return models.RemoteStatusPartiallyAvailable
	case 3:
		return models.RemoteStatusProcessing
	default:
		if requestStatus == 2 {
			return models.RemoteStatusApproved
		}
		return models.RemoteStatusPending
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, errors.Wrap(err, "parse url")
	}

	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal body")
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fulfillment.Transient(err)
	}
	return resp, nil
}

func (c *Client) FetchStatus(ctx context.Context, externalID uint64) (fulfillment.Result, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/request/%d", externalID), nil)
	if err != nil {
		return fulfillment.Result{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fulfillment.Result{}, fulfillment.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5:
		return fulfillment.Result{}, fulfillment.Transient(fmt.Errorf("jellyseerr http %d", resp.StatusCode))
	case resp.StatusCode/100 != 2:
		return fulfillment.Result{}, fmt.Errorf("jellyseerr http %d", resp.StatusCode)
	}

	var rb respRequest
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return fulfillment.Result{}, errors.Wrap(err, "decode")
	}

	at := rb.UpdatedAt
	return fulfillment.Result{
		Status:    normalizeMediaStatus(rb.Status, rb.Media.Status),
		StatusRaw: fmt.Sprintf("request=%d media=%d", rb.Status, rb.Media.Status),
		StatusAt:  &at,
	}, nil
}

func (c *Client) CreateRequest(ctx context.Context, mediaID uint64, mediaKind string) (fulfillment.CreateResult, error) {
	// Jellyseerr различает только movie/tv.
	mediaType := "movie"
	if mediaKind != models.MediaKindMovie {
		mediaType = "tv"
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/request", map[string]any{
		"mediaType": mediaType,
		"mediaId":   mediaID,
	})
	if err != nil {
		return fulfillment.CreateResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fulfillment.CreateResult{}, fulfillment.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5:
		return fulfillment.CreateResult{}, fulfillment.Transient(fmt.Errorf("jellyseerr http %d", resp.StatusCode))
	case resp.StatusCode/100 != 2:
		return fulfillment.CreateResult{}, fmt.Errorf("jellyseerr http %d", resp.StatusCode)
	}

	var rb respRequest
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return fulfillment.CreateResult{}, errors.Wrap(err, "decode")
	}

	return fulfillment.CreateResult{
		ExternalID: rb.ID,
		Status:     normalizeMediaStatus(rb.Status, rb.Media.Status),
		Title:      rb.Media.Title,
		Year:       rb.Media.Year,
	}, nil
}

func (c *Client) CancelRequest(ctx context.Context, externalID uint64) error {
	resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/request/%d", externalID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fulfillment.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5:
		return fulfillment.Transient(fmt.Errorf("jellyseerr http %d", resp.StatusCode))
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("jellyseerr http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) Probe(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/status", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("jellyseerr status http %d", resp.StatusCode)
	}
	return nil
}
