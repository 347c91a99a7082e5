// Package tools exposes the mailbox operations the reasoning model may
// invoke during a conversation turn.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocalmail/vocalmail/internal/embeddings"
	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/searchindex"
	"github.com/vocalmail/vocalmail/internal/store"
	"github.com/vocalmail/vocalmail/internal/transport"
)

// Tool names form a closed set; anything else is a protocol violation by
// the model and is reported back as an error result, never an error.
const (
	ToolSearchEmails         = "search_emails"
	ToolSearchEmailsBySender = "search_emails_by_sender"
	ToolGetRecentEmails      = "get_recent_emails"
	ToolSendEmail            = "send_email"
)

const (
	defaultTopK        = 5
	defaultRecentLimit = 5
	maxResultLimit     = 25
)

// Definition describes one tool for the reasoner wire contract.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry resolves tool calls against the local mailbox copy and the
// outbound transport.
type Registry struct {
	store     store.Store
	index     searchindex.Index
	embedder  embeddings.Provider
	transport transport.Transport
	log       zerolog.Logger
}

func NewRegistry(st store.Store, idx searchindex.Index, emb embeddings.Provider, tr transport.Transport, log zerolog.Logger) *Registry {
	return &Registry{
		store:     st,
		index:     idx,
		embedder:  emb,
		transport: tr,
		log:       log.With().Str("component", "tools").Logger(),
	}
}

// Definitions lists every tool the model is allowed to call.
func (r *Registry) Definitions() []Definition {
	return []Definition{
		{
			Name:        ToolSearchEmails,
			Description: "Search the mailbox by meaning. Use for questions about email content or topics.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "What to look for, in natural language",
					},
					"top_k": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of results to return",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolSearchEmailsBySender,
			Description: "Find emails from a specific person by name or address.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sender": map[string]interface{}{
						"type":        "string",
						"description": "Sender name or email address, full or partial",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of results to return",
					},
				},
				"required": []string{"sender"},
			},
		},
		{
			Name:        ToolGetRecentEmails,
			Description: "List the most recently received emails.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of results to return",
					},
				},
			},
		},
		{
			Name:        ToolSendEmail,
			Description: "Send an email on the user's behalf. Confirm recipient, subject and body with the user first.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"to": map[string]interface{}{
						"type":        "string",
						"description": "Recipient email address",
					},
					"subject": map[string]interface{}{
						"type":        "string",
						"description": "Subject line",
					},
					"body": map[string]interface{}{
						"type":        "string",
						"description": "Plain text body",
					},
				},
				"required": []string{"to", "subject", "body"},
			},
		},
	}
}

// Dispatch runs one tool call and always returns a result for the
// originating call id. Failures are folded into error results so a bad
// call never aborts the turn.
func (r *Registry) Dispatch(ctx context.Context, call model.ToolCall) model.ToolResult {
	start := time.Now()
	res := r.run(ctx, call)
	r.log.Debug().
		Str("tool", call.Name).
		Str("call_id", call.CallID).
		Str("status", string(res.Status)).
		Dur("elapsed", time.Since(start)).
		Msg("tool dispatched")
	return res
}

func (r *Registry) run(ctx context.Context, call model.ToolCall) model.ToolResult {
	switch call.Name {
	case ToolSearchEmails:
		return r.searchEmails(ctx, call)
	case ToolSearchEmailsBySender:
		return r.searchEmailsBySender(ctx, call)
	case ToolGetRecentEmails:
		return r.getRecentEmails(ctx, call)
	case ToolSendEmail:
		return r.sendEmail(ctx, call)
	default:
		r.log.Warn().Str("tool", call.Name).Msg("unknown tool requested")
		return errResult(call.CallID, fmt.Errorf("%w: unknown tool %q", model.ErrProtocol, call.Name))
	}
}

type searchArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (r *Registry) searchEmails(ctx context.Context, call model.ToolCall) model.ToolResult {
	var args searchArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return errResult(call.CallID, fmt.Errorf("%w: bad arguments: %v", model.ErrValidation, err))
	}
	if strings.TrimSpace(args.Query) == "" {
		return errResult(call.CallID, fmt.Errorf("%w: query is required", model.ErrValidation))
	}
	topK := clampLimit(args.TopK, defaultTopK)

	vec, err := r.embedder.Embed(ctx, args.Query)
	if err != nil {
		return errResult(call.CallID, fmt.Errorf("%w: embed query: %v", model.ErrStoreUnavailable, err))
	}
	hits, err := r.index.Search(ctx, args.Query, vec, topK)
	if err != nil {
		return errResult(call.CallID, fmt.Errorf("%w: search: %v", model.ErrStoreUnavailable, err))
	}
	rankHits(hits)
	return okResult(call.CallID, formatHits(hits))
}

type senderArgs struct {
	Sender string `json:"sender"`
	Limit  int    `json:"limit"`
}

func (r *Registry) searchEmailsBySender(ctx context.Context, call model.ToolCall) model.ToolResult {
	var args senderArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return errResult(call.CallID, fmt.Errorf("%w: bad arguments: %v", model.ErrValidation, err))
	}
	if strings.TrimSpace(args.Sender) == "" {
		return errResult(call.CallID, fmt.Errorf("%w: sender is required", model.ErrValidation))
	}
	limit := clampLimit(args.Limit, defaultRecentLimit)

	msgs, err := r.store.Messages().ListBySender(ctx, args.Sender, limit)
	if err != nil {
		return errResult(call.CallID, fmt.Errorf("%w: list by sender: %v", model.ErrStoreUnavailable, err))
	}
	return okResult(call.CallID, formatMessages(msgs))
}

type recentArgs struct {
	Limit int `json:"limit"`
}

func (r *Registry) getRecentEmails(ctx context.Context, call model.ToolCall) model.ToolResult {
	var args recentArgs
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return errResult(call.CallID, fmt.Errorf("%w: bad arguments: %v", model.ErrValidation, err))
		}
	}
	limit := clampLimit(args.Limit, defaultRecentLimit)

	msgs, err := r.store.Messages().ListRecent(ctx, limit)
	if err != nil {
		return errResult(call.CallID, fmt.Errorf("%w: list recent: %v", model.ErrStoreUnavailable, err))
	}
	return okResult(call.CallID, formatMessages(msgs))
}

type sendArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (r *Registry) sendEmail(ctx context.Context, call model.ToolCall) model.ToolResult {
	var args sendArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return errResult(call.CallID, fmt.Errorf("%w: bad arguments: %v", model.ErrValidation, err))
	}
	if !strings.Contains(args.To, "@") {
		return errResult(call.CallID, fmt.Errorf("%w: %q is not a valid recipient address", model.ErrValidation, args.To))
	}
	if strings.TrimSpace(args.Subject) == "" && strings.TrimSpace(args.Body) == "" {
		return errResult(call.CallID, fmt.Errorf("%w: subject or body is required", model.ErrValidation))
	}

	receipt, err := r.transport.Send(ctx, args.To, args.Subject, args.Body)
	if err != nil {
		return errResult(call.CallID, fmt.Errorf("send: %w", err))
	}
	payload := fmt.Sprintf("Email sent to %s via %s (message id %s).", args.To, receipt.Transport, receipt.MessageID)
	return okResult(call.CallID, payload)
}

// rankHits orders by descending score, breaking ties newest first.
func rankHits(hits []model.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ReceivedAt.After(hits[j].ReceivedAt)
	})
}

func clampLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > maxResultLimit {
		return maxResultLimit
	}
	return n
}

func okResult(callID, payload string) model.ToolResult {
	return model.ToolResult{CallID: callID, Status: model.ToolStatusOK, Payload: payload}
}

func errResult(callID string, err error) model.ToolResult {
	return model.ToolResult{CallID: callID, Status: model.ToolStatusError, Payload: err.Error()}
}
