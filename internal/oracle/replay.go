package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fixture is one recorded exchange, stored as <dir>/<PromptKey(prompt)>.json.
type fixture struct {
	Prompt string `json:"prompt"`
	Reply  Reply  `json:"reply"`
	// Blocked replays a safety block instead of a reply.
	Blocked bool `json:"blocked,omitempty"`
}

func PromptKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:12])
}

// Replay answers prompts from fixtures recorded by Recorder. An unknown
// prompt is reported as ErrUnavailable.
type Replay struct {
	dir string
}

func NewReplay(dir string) *Replay {
	return &Replay{dir: dir}
}

func (r *Replay) Generate(ctx context.Context, prompt string) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	key := PromptKey(prompt)
	b, err := os.ReadFile(filepath.Join(r.dir, key+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return Reply{}, fmt.Errorf("%w: no recorded reply for prompt %s", ErrUnavailable, key)
	}
	if err != nil {
		return Reply{}, fmt.Errorf("%w: read fixture %s: %w", ErrUnavailable, key, err)
	}
	var fx fixture
	if err := json.Unmarshal(b, &fx); err != nil {
		return Reply{}, fmt.Errorf("%w: decode fixture %s: %w", ErrUnavailable, key, err)
	}
	if fx.Blocked {
		return fx.Reply, fmt.Errorf("%w: recorded block for prompt %s", ErrSafetyBlocked, key)
	}
	return fx.Reply, nil
}

// Recorder passes calls through and saves successful replies and safety
// blocks for later Replay.
type Recorder struct {
	next Oracle
	dir  string
	mu   sync.Mutex
}

func NewRecorder(next Oracle, dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fixture dir: %w", err)
	}
	return &Recorder{next: next, dir: dir}, nil
}

func (r *Recorder) Generate(ctx context.Context, prompt string) (Reply, error) {
	reply, err := r.next.Generate(ctx, prompt)
	blocked := errors.Is(err, ErrSafetyBlocked)
	if err != nil && !blocked {
		return reply, err
	}
	if saveErr := r.save(fixture{Prompt: prompt, Reply: reply, Blocked: blocked}); saveErr != nil && err == nil {
		return reply, saveErr
	}
	return reply, err
}

func (r *Recorder) save(fx fixture) error {
	b, err := json.MarshalIndent(fx, "", "  ")
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	path := filepath.Join(r.dir, PromptKey(fx.Prompt)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}
	return os.Rename(tmp, path)
}
