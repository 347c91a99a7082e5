package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/vocalmail/vocalmail/internal/model"
)

// NylasProvider lists messages from the Nylas v3 messages API.
type NylasProvider struct {
	client  *resty.Client
	grantID string
}

// NewNylasProvider builds a provider for the given grant. baseURL is the
// API root, e.g. https://api.us.nylas.com/v3.
func NewNylasProvider(baseURL, apiKey, grantID string) *NylasProvider {
	c := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)
	return &NylasProvider{client: c, grantID: grantID}
}

type listResponse struct {
	RequestID  string       `json:"request_id"`
	Data       []RawMessage `json:"data"`
	NextCursor string       `json:"next_cursor"`
}

// ListPage fetches one page of messages. An empty cursor starts at the
// newest message.
func (p *NylasProvider) ListPage(ctx context.Context, cursor string, pageSize int) (*Page, error) {
	req := p.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		req.SetQueryParam("page_token", cursor)
	}

	resp, err := req.Get(fmt.Sprintf("/grants/%s/messages", p.grantID))
	if err != nil {
		return nil, errors.Wrap(model.ErrProviderUnavailable, err.Error())
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return nil, errors.Wrapf(model.ErrProviderUnavailable, "auth rejected (status %d)", resp.StatusCode())
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Wrapf(model.ErrProviderUnavailable, "status %d: %s", resp.StatusCode(), resp.String())
	}

	var out listResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, errors.Wrap(err, "decode messages page")
	}
	return &Page{Messages: out.Data, NextCursor: out.NextCursor}, nil
}

// HealthPing verifies the grant is reachable by requesting a single message.
func (p *NylasProvider) HealthPing(ctx context.Context) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		Get(fmt.Sprintf("/grants/%s/messages", p.grantID))
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("provider status %d", resp.StatusCode())
	}
	return nil
}
