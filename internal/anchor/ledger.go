package anchor

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

var (
	ErrNotFound     = errors.New("proof hash not found")
	ErrEmptyPayload = errors.New("signed payload and signature are required")
)

// Entry is one anchored report as stored in the ledger.
type Entry struct {
	ProofHash  string    `json:"proof_hash"`
	Payload    string    `json:"payload"`
	Signature  string    `json:"signature"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// Ledger is an append-only store of signed payloads. Anchoring the same
// payload and signature twice returns the same proof hash and keeps one entry.
type Ledger interface {
	Anchor(ctx context.Context, payload, signature string) (string, error)
	Lookup(ctx context.Context, proofHash string) (Entry, error)
	Close() error
}

// NewLedger creates a postgres-backed ledger when configured, otherwise in-memory.
func NewLedger(ctx context.Context, databaseURL string) (Ledger, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryLedger(), nil
	}
	return NewPostgresLedger(ctx, databaseURL)
}

// ProofHash identifies an anchored payload: 0x-prefixed Keccak-256 over the
// payload and signature.
func ProofHash(payload, signature string) string {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(payload))
	_, _ = h.Write([]byte{'\n'})
	_, _ = h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// InMemoryLedger is a process-local ledger for development and tests.
type InMemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{entries: make(map[string]Entry)}
}

func (l *InMemoryLedger) Anchor(ctx context.Context, payload, signature string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload) == "" || strings.TrimSpace(signature) == "" {
		return "", ErrEmptyPayload
	}
	hash := ProofHash(payload, signature)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[hash]; ok {
		return hash, nil
	}
	l.entries[hash] = Entry{
		ProofHash:  hash,
		Payload:    payload,
		Signature:  signature,
		AnchoredAt: time.Now().UTC(),
	}
	l.order = append(l.order, hash)
	return hash, nil
}

func (l *InMemoryLedger) Lookup(_ context.Context, proofHash string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[strings.ToLower(strings.TrimSpace(proofHash))]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (l *InMemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

func (l *InMemoryLedger) Close() error { return nil }

// WithTimeout bounds every Anchor call made through the returned Ledger.
func WithTimeout(l Ledger, d time.Duration) Ledger {
	if d <= 0 {
		return l
	}
	return &timeoutLedger{Ledger: l, timeout: d}
}

type timeoutLedger struct {
	Ledger
	timeout time.Duration
}

func (t *timeoutLedger) Anchor(ctx context.Context, payload, signature string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Ledger.Anchor(ctx, payload, signature)
}
