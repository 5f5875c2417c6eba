package handlers

import (
	"context"
	"sync"

	"github.com/aceteam-ai/aiworker/internal/provider"
)

type fakeDetector struct {
	mu     sync.Mutex
	calls  int
	result *provider.DetectionResult
	err    error
}

func (f *fakeDetector) Detect(ctx context.Context, imageURL string) (*provider.DetectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type fakeLocal struct {
	mu      sync.Mutex
	calls   int
	reply   string
	err     error
	systems []string
}

func (f *fakeLocal) Chat(ctx context.Context, message, convContext string) (*provider.LocalReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.systems = append(f.systems, convContext)
	if f.err != nil {
		return nil, f.err
	}
	return &provider.LocalReply{Response: f.reply, Done: true}, nil
}

type fakeCloud struct {
	mu           sync.Mutex
	chatCalls    int
	analyzeCalls int
	reply        string
	err          error
	lastMessages []provider.Message
	lastPrompt   string
}

func (f *fakeCloud) Chat(ctx context.Context, messages []provider.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	f.lastMessages = messages
	return f.reply, f.err
}

func (f *fakeCloud) Analyze(ctx context.Context, prompt, imageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzeCalls++
	f.lastPrompt = prompt
	return f.reply, f.err
}

func unavailableErr(name string) error {
	return &provider.Error{Provider: name, Kind: provider.KindUnavailable, Attempts: 1}
}
