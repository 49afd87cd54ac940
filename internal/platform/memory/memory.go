// Package memory is an in-process platform backend. State lives only as
// long as the process; it backs local development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pbsnet/gateway/internal/platform"
)

type account struct {
	platform.Account
	password string
}

type blob struct {
	data        []byte
	contentType string
}

// Backend implements platform.Directory, platform.Documents and platform.Storage.
type Backend struct {
	mu          sync.RWMutex
	accounts    map[string]*account // id → account
	assertions  map[string]string   // assertion → account email
	recoveries  map[string]string   // secret → user id
	collections map[string]map[string]map[string]any
	order       map[string][]string // insertion order per collection
	unique      map[string][]string // collection → unique attributes
	buckets     map[string]map[string]blob
}

// New creates an empty Backend.
func New() *Backend {
	return &Backend{
		accounts:    make(map[string]*account),
		assertions:  make(map[string]string),
		recoveries:  make(map[string]string),
		collections: make(map[string]map[string]map[string]any),
		order:       make(map[string][]string),
		unique:      make(map[string][]string),
		buckets:     make(map[string]map[string]blob),
	}
}

// Platform wraps b as a platform.Backend.
func (b *Backend) Platform() *platform.Backend {
	return &platform.Backend{
		Directory:   b,
		Documents:   b,
		Storage:     b,
		ServesFiles: true,
		Close:       func() {},
	}
}

// SetUnique declares attributes of collection that must be unique among
// documents where they are set.
func (b *Backend) SetUnique(collection string, attributes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unique[collection] = attributes
}

// AddAssertion registers a third-party login assertion for email. The
// account is created on first use of the assertion by the caller.
func (b *Backend) AddAssertion(assertion, email, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.assertions[assertion] = email + "\x00" + name
}

// RecoverySecret returns the outstanding recovery secret for userID, if any.
func (b *Backend) RecoverySecret(userID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for secret, id := range b.recoveries {
		if id == userID {
			return secret, true
		}
	}
	return "", false
}

// ── Directory ───────────────────────────────────────────────────────────────

// CreateUser implements platform.Directory.
func (b *Backend) CreateUser(_ context.Context, email, password, name string) (*platform.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.findByEmail(email) != nil {
		return nil, fmt.Errorf("create user %q: %w", email, platform.ErrConflict)
	}
	a := &account{
		Account:  platform.Account{ID: uuid.NewString(), Email: email, Name: name},
		password: password,
	}
	b.accounts[a.ID] = a
	out := a.Account
	return &out, nil
}

// FindUserByEmail implements platform.Directory.
func (b *Backend) FindUserByEmail(_ context.Context, email string) (*platform.Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a := b.findByEmail(email)
	if a == nil {
		return nil, platform.ErrNotFound
	}
	out := a.Account
	return &out, nil
}

// UpdatePassword implements platform.Directory.
func (b *Backend) UpdatePassword(_ context.Context, userID, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[userID]
	if !ok {
		return platform.ErrNotFound
	}
	a.password = password
	return nil
}

// CheckPassword implements platform.Directory.
func (b *Backend) CheckPassword(_ context.Context, email, password string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a := b.findByEmail(email)
	if a == nil || a.password != password {
		return platform.ErrInvalidCredentials
	}
	return nil
}

// AccountFromAssertion implements platform.Directory.
func (b *Backend) AccountFromAssertion(_ context.Context, assertion string) (*platform.Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.assertions[assertion]
	if !ok {
		return nil, platform.ErrInvalidCredentials
	}
	email, name, _ := strings.Cut(v, "\x00")
	return &platform.Account{Email: email, Name: name}, nil
}

// OAuthURL implements platform.Directory.
func (b *Backend) OAuthURL(provider, successURL, failureURL string) (string, error) {
	q := url.Values{}
	q.Set("success", successURL)
	q.Set("failure", failureURL)
	return "memory://oauth/" + provider + "?" + q.Encode(), nil
}

// SendRecovery implements platform.Directory.
func (b *Backend) SendRecovery(_ context.Context, email, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.findByEmail(email)
	if a == nil {
		return platform.ErrNotFound
	}
	b.recoveries[uuid.NewString()] = a.ID
	return nil
}

// CompleteRecovery implements platform.Directory.
func (b *Backend) CompleteRecovery(_ context.Context, userID, secret, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.recoveries[secret]; !ok || id != userID {
		return platform.ErrInvalidCredentials
	}
	delete(b.recoveries, secret)
	b.accounts[userID].password = password
	return nil
}

func (b *Backend) findByEmail(email string) *account {
	for _, a := range b.accounts {
		if strings.EqualFold(a.Email, email) {
			return a
		}
	}
	return nil
}

// ── Documents ───────────────────────────────────────────────────────────────

// Get implements platform.Documents.
func (b *Backend) Get(_ context.Context, collection, id string) (*platform.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.collections[collection][id]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return &platform.Document{ID: id, Data: clone(data)}, nil
}

// Create implements platform.Documents.
func (b *Backend) Create(_ context.Context, collection, id string, data map[string]any) (*platform.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	coll, ok := b.collections[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		b.collections[collection] = coll
	}
	if _, exists := coll[id]; exists {
		return nil, fmt.Errorf("document %s/%s: %w", collection, id, platform.ErrConflict)
	}
	if err := b.checkUnique(collection, id, data); err != nil {
		return nil, err
	}
	coll[id] = clone(data)
	b.order[collection] = append(b.order[collection], id)
	return &platform.Document{ID: id, Data: clone(data)}, nil
}

// Update implements platform.Documents.
func (b *Backend) Update(_ context.Context, collection, id string, data map[string]any) (*platform.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.collections[collection][id]
	if !ok {
		return nil, platform.ErrNotFound
	}
	if err := b.checkUnique(collection, id, data); err != nil {
		return nil, err
	}
	for k, v := range data {
		cur[k] = v
	}
	return &platform.Document{ID: id, Data: clone(cur)}, nil
}

// List implements platform.Documents. Documents are returned in insertion order.
func (b *Backend) List(_ context.Context, collection string, queries ...platform.Query) ([]*platform.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	limit := platform.LimitOf(queries)
	var out []*platform.Document
	for _, id := range b.order[collection] {
		d := &platform.Document{ID: id, Data: b.collections[collection][id]}
		if !platform.Matches(d, queries) {
			continue
		}
		out = append(out, &platform.Document{ID: id, Data: clone(d.Data)})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (b *Backend) checkUnique(collection, id string, data map[string]any) error {
	for _, attr := range b.unique[collection] {
		v, ok := data[attr]
		if !ok || v == nil || v == "" {
			continue
		}
		for otherID, other := range b.collections[collection] {
			if otherID != id && other[attr] == v {
				return fmt.Errorf("%s %v: %w", attr, v, platform.ErrConflict)
			}
		}
	}
	return nil
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ── Storage ─────────────────────────────────────────────────────────────────

// Upload implements platform.Storage.
func (b *Backend) Upload(_ context.Context, bucket, _ string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buckets[bucket] == nil {
		b.buckets[bucket] = make(map[string]blob)
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	b.buckets[bucket][id] = blob{
		data:        bytes.Clone(data),
		contentType: http.DetectContentType(data),
	}
	return id, nil
}

// Delete implements platform.Storage.
func (b *Backend) Delete(_ context.Context, bucket, fileID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[bucket][fileID]; !ok {
		return platform.ErrNotFound
	}
	delete(b.buckets[bucket], fileID)
	return nil
}

// Open implements platform.Storage.
func (b *Backend) Open(_ context.Context, bucket, fileID string) (io.ReadCloser, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.buckets[bucket][fileID]
	if !ok {
		return nil, "", platform.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(f.data)), f.contentType, nil
}

// Files lists the ids stored in bucket, sorted.
func (b *Backend) Files(bucket string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.buckets[bucket]))
	for id := range b.buckets[bucket] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
