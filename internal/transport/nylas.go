package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/vocalmail/vocalmail/internal/model"
)

// NylasTransport sends mail through the Nylas v3 send API using the
// authenticated grant's own address as the sender.
type NylasTransport struct {
	client  *resty.Client
	grantID string
}

func NewNylasTransport(baseURL, apiKey, grantID string) *NylasTransport {
	c := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)
	return &NylasTransport{client: c, grantID: grantID}
}

func (t *NylasTransport) Name() string { return "nylas" }

type sendRequest struct {
	To      []participant `json:"to"`
	Subject string        `json:"subject"`
	Body    string        `json:"body"`
}

type participant struct {
	Email string `json:"email"`
}

type sendResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (t *NylasTransport) Send(ctx context.Context, to, subject, body string) (*model.DeliveryReceipt, error) {
	reqBody := sendRequest{
		To:      []participant{{Email: to}},
		Subject: subject,
		Body:    body,
	}
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(&reqBody).
		Post("/grants/" + t.grantID + "/messages/send")
	if err != nil {
		return nil, errors.Wrap(model.ErrTransport, err.Error())
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, errors.Wrapf(model.ErrTransport, "status %d: %s", resp.StatusCode(), resp.String())
	}
	var out sendResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, errors.Wrap(err, "decode send response")
	}
	return &model.DeliveryReceipt{
		MessageID: out.Data.ID,
		Transport: t.Name(),
		SentAt:    time.Now().UTC(),
	}, nil
}

// HealthPing checks that the grant endpoint is reachable.
func (t *NylasTransport) HealthPing(ctx context.Context) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		Get("/grants/" + t.grantID + "/messages")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return errors.Errorf("transport status %d", resp.StatusCode())
	}
	return nil
}
