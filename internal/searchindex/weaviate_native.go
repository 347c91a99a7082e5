package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/vocalmail/vocalmail/internal/model"
)

// className is the weaviate class holding one object per email message.
const className = "EmailMessage"

// weavNative is a native implementation of Index using the Weaviate Go client.
type weavNative struct {
	client  *weaviate.Client
	baseURL string // host:port without scheme
	alpha   float32
}

// NewWeaviateNativeIndex constructs an Index backed by Weaviate at baseURL.
// baseURL should be host:port (without scheme), e.g., "localhost:8081".
// alpha is the hybrid search weighting (1.0 = pure vector).
func NewWeaviateNativeIndex(baseURL string, alpha float32) (Index, error) {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &weavNative{client: cl, baseURL: baseURL, alpha: alpha}, nil
}

// objectID derives a stable weaviate object UUID from the provider message id,
// so the same message always maps to the same object.
func objectID(messageID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(messageID)).String()
}

func (w *weavNative) UpsertMessage(ctx context.Context, messageID string, vec []float32, payload map[string]interface{}) error {
	if w == nil || w.client == nil || messageID == "" {
		return nil
	}
	id := objectID(messageID)
	exists, err := w.client.Data().Checker().WithClassName(className).WithID(id).Do(ctx)
	if err == nil && exists {
		// Same message id already indexed; keep ingestion idempotent.
		return nil
	}
	_, err = w.client.Data().Creator().WithClassName(className).WithID(id).WithProperties(payload).WithVector(vec).Do(ctx)
	return err
}

func (w *weavNative) Search(ctx context.Context, query string, vec []float32, topK int) ([]model.SearchHit, error) {
	log.Debug().Str("query", query).Int("topK", topK).Int("vectorLength", len(vec)).Msg("weaviate search starting")

	safeString := func(v interface{}) string {
		s, _ := v.(string)
		return s
	}

	hy := (&gql.HybridArgumentBuilder{}).
		WithQuery(query).
		WithVector(vec).
		WithAlpha(w.alpha).
		WithProperties([]string{"subject", "body"})

	req := w.client.GraphQL().Get().
		WithClassName(className).
		WithHybrid(hy).
		WithLimit(topK).
		WithFields(
			gql.Field{Name: "messageId"},
			gql.Field{Name: "subject"},
			gql.Field{Name: "fromName"},
			gql.Field{Name: "fromEmail"},
			gql.Field{Name: "snippet"},
			gql.Field{Name: "receivedAt"},
			gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "score"}}},
		)

	resp, err := req.Do(ctx)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("weaviate graphql query failed")
		return nil, err
	}
	if len(resp.Errors) > 0 {
		log.Error().Interface("errors", resp.Errors).Msg("weaviate graphql errors")
		return nil, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}

	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		log.Warn().Msg("weaviate response has no Get data")
		return nil, nil
	}
	val := getData[className]
	if val == nil {
		return []model.SearchHit{}, nil
	}
	raw, ok := val.([]interface{})
	if !ok {
		log.Warn().Interface("val", val).Msg("EmailMessage is not an array")
		return nil, nil
	}

	out := make([]model.SearchHit, 0, len(raw))
	for _, item := range raw {
		m := item.(map[string]interface{})
		var score float64
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			switch v := add["score"].(type) {
			case float64:
				score = v
			case string:
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					score = f
				}
			}
		}
		ts, _ := time.Parse(time.RFC3339, safeString(m["receivedAt"]))
		hit := model.SearchHit{
			MessageID:  safeString(m["messageId"]),
			Subject:    safeString(m["subject"]),
			FromName:   safeString(m["fromName"]),
			FromEmail:  safeString(m["fromEmail"]),
			Snippet:    safeString(m["snippet"]),
			ReceivedAt: ts,
			Score:      score,
		}
		out = append(out, hit)
	}
	log.Debug().Int("resultCount", len(out)).Str("query", query).Msg("weaviate search completed")
	return out, nil
}

func (w *weavNative) Exists(ctx context.Context, messageID string) (bool, error) {
	if w == nil || w.client == nil || messageID == "" {
		return false, nil
	}
	return w.client.Data().Checker().WithClassName(className).WithID(objectID(messageID)).Do(ctx)
}

func (w *weavNative) Count(ctx context.Context) (int, error) {
	resp, err := w.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(gql.Field{Name: "meta", Fields: []gql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(resp.Errors) > 0 {
		return 0, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}
	agg, ok := resp.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	arr, ok := agg[className].([]interface{})
	if !ok || len(arr) == 0 {
		return 0, nil
	}
	meta, ok := arr[0].(map[string]interface{})["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func (w *weavNative) DeleteMessage(ctx context.Context, messageID string) error {
	if w == nil || w.client == nil || messageID == "" {
		return nil
	}
	return w.client.Data().Deleter().WithClassName(className).WithID(objectID(messageID)).Do(ctx)
}

// HealthPing implements health.HealthPinger for the weaviate-based index.
// It calls GET http://<baseURL>/v1/meta and expects 200 OK.
func (w *weavNative) HealthPing(ctx context.Context) error {
	if w == nil || w.baseURL == "" {
		return fmt.Errorf("weaviate baseURL missing")
	}
	url := w.baseURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/v1/meta", nil)
	if err != nil {
		return err
	}
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weaviate status %d", resp.StatusCode)
	}
	return nil
}

// formatGraphQLErrors returns a compact string with messages extracted for logging.
func formatGraphQLErrors(errs interface{}) string {
	if b, err := json.Marshal(errs); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", errs)
}
