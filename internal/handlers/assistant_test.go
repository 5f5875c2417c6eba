package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aceteam-ai/aiworker/internal/provider"
)

func TestDetectPersonality(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"What should I have for lunch?", PersonalitySofia},
		{"I have a fever and my blood pressure is high, should I see a doctor?", PersonalityDrVital},
		{"Meu exame de glicemia veio alterado", PersonalityDrVital},
		{"hello", PersonalitySofia},
		{"one symptom only", PersonalitySofia},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectPersonality(tt.message))
		})
	}
}

func TestAssistantLocalSucceeds(t *testing.T) {
	local := &fakeLocal{reply: " Try a salad! "}
	cloud := &fakeCloud{reply: "cloud"}
	h := NewAssistant(local, cloud)

	res, err := h.Process(context.Background(), map[string]any{"message": "what should I eat?", "userName": "Ana"})
	require.NoError(t, err)

	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 0, cloud.chatCalls)
	assert.Equal(t, "Try a salad!", res["message"])
	assert.Equal(t, provider.ProviderLocalLLM, res["provider"])
	assert.Equal(t, PersonalitySofia, res["personality"])
	assert.Equal(t, false, res["fallback_used"])
	assert.Contains(t, local.systems[0], "Ana")
}

func TestAssistantFallsBackOnce(t *testing.T) {
	local := &fakeLocal{err: unavailableErr(provider.ProviderLocalLLM)}
	cloud := &fakeCloud{reply: "From the cloud"}
	h := NewAssistant(local, cloud)

	res, err := h.Process(context.Background(), map[string]any{"message": "hi", "personality": "Dr. Vital"})
	require.NoError(t, err)

	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, cloud.chatCalls)
	assert.Equal(t, "From the cloud", res["message"])
	assert.Equal(t, provider.ProviderCloudLLM, res["provider"])
	assert.Equal(t, PersonalityDrVital, res["personality"])
	assert.Equal(t, true, res["fallback_used"])

	require.Len(t, cloud.lastMessages, 2)
	assert.Equal(t, local.systems[0], cloud.lastMessages[0].Content)
	assert.Equal(t, "hi", cloud.lastMessages[1].Content)
}

func TestAssistantBothFail(t *testing.T) {
	local := &fakeLocal{err: unavailableErr(provider.ProviderLocalLLM)}
	cloud := &fakeCloud{err: unavailableErr(provider.ProviderCloudLLM)}
	h := NewAssistant(local, cloud)

	_, err := h.Process(context.Background(), map[string]any{"message": "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrUnavailable))
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, cloud.chatCalls)
}

func TestAssistantWithoutLocalClient(t *testing.T) {
	cloud := &fakeCloud{reply: "ok"}
	res, err := NewAssistant(nil, cloud).Process(context.Background(), map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, provider.ProviderCloudLLM, res["provider"])
}

func TestAssistantRequiresMessage(t *testing.T) {
	local := &fakeLocal{reply: "x"}
	_, err := NewAssistant(local, &fakeCloud{}).Process(context.Background(), map[string]any{"message": "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, local.calls)
}
