package handlers

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aceteam-ai/aiworker/internal/provider"
)

// DefaultMaxReplyChars caps messaging replies when neither the job nor the
// configuration sets a limit.
const DefaultMaxReplyChars = 400

type messagingInput struct {
	Message  string `json:"message"`
	Channel  string `json:"channel"`
	UserName string `json:"userName"`
	MaxChars number `json:"maxChars"`
}

// MessagingReplyHandler handles messaging_reply jobs with one cloud chat call.
// There is no fallback; a provider failure fails the job.
type MessagingReplyHandler struct {
	cloud    provider.CloudLLM
	maxChars int
}

// NewMessagingReply creates the messaging_reply handler. maxChars <= 0 uses
// DefaultMaxReplyChars.
func NewMessagingReply(cloud provider.CloudLLM, maxChars int) *MessagingReplyHandler {
	if maxChars <= 0 {
		maxChars = DefaultMaxReplyChars
	}
	return &MessagingReplyHandler{cloud: cloud, maxChars: maxChars}
}

type messagingRequest struct {
	Message  string
	Channel  string
	UserName string
	MaxChars int
}

// resolve decodes input and applies the channel and length defaults.
func (h *MessagingReplyHandler) resolve(input map[string]any) (messagingRequest, error) {
	var in messagingInput
	if err := decodeInput(input, &in); err != nil {
		return messagingRequest{}, err
	}
	if err := required("message", in.Message); err != nil {
		return messagingRequest{}, err
	}
	req := messagingRequest{Message: in.Message, Channel: in.Channel, UserName: in.UserName, MaxChars: h.maxChars}
	if req.Channel == "" {
		req.Channel = "whatsapp"
	}
	if in.MaxChars > 0 {
		req.MaxChars = int(in.MaxChars)
	}
	return req, nil
}

// CacheInput keys messaging replies on the resolved request, so a job that
// spells out the defaults shares an entry with one that omits them.
func (h *MessagingReplyHandler) CacheInput(input map[string]any) (map[string]any, error) {
	req, err := h.resolve(input)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message":  req.Message,
		"channel":  req.Channel,
		"userName": req.UserName,
		"maxChars": req.MaxChars,
	}, nil
}

func (h *MessagingReplyHandler) Process(ctx context.Context, input map[string]any) (Result, error) {
	req, err := h.resolve(input)
	if err != nil {
		return nil, err
	}
	channel, maxChars := req.Channel, req.MaxChars

	user := req.Message
	if req.UserName != "" {
		user = fmt.Sprintf("%s says: %s", req.UserName, req.Message)
	}

	if h.cloud == nil {
		return nil, fmt.Errorf("messaging reply: %w", provider.ErrUnavailable)
	}
	reply, err := h.cloud.Chat(ctx, []provider.Message{
		{Role: "system", Content: messagingSystemPrompt(channel, maxChars)},
		{Role: "user", Content: user},
	})
	if err != nil {
		return nil, fmt.Errorf("messaging reply: %w", err)
	}

	reply, truncated := truncateRunes(strings.TrimSpace(reply), maxChars)
	return Result{
		"reply":     reply,
		"channel":   channel,
		"truncated": truncated,
		"chars":     utf8.RuneCountInString(reply),
		"provider":  provider.ProviderCloudLLM,
	}, nil
}

// truncateRunes cuts s to at most n runes, preferring the last word boundary
// in the final fifth of the budget.
func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)[:n]
	cut := string(runes)
	if i := strings.LastIndexAny(cut, " \n\t"); i > 0 && utf8.RuneCountInString(cut[:i]) >= n*4/5 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut), true
}
