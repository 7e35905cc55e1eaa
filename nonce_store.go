package walletauth

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	goerrors "github.com/goliatone/go-errors"
)

const nonceByteLength = 32

// NonceRecord is a single-use challenge bound to an address.
type NonceRecord struct {
	Address  string
	Nonce    string
	IssuedAt time.Time
}

// NonceStore keeps at most one live nonce per lowercased address. A live
// nonce is one younger than the TTL; expired records are removed lazily on
// access and by Sweep.
type NonceStore struct {
	mu      sync.Mutex
	entries map[string]NonceRecord
	ttl     time.Duration
	now     func() time.Time
	logger  Logger
}

// NonceStoreOption customizes NonceStore construction.
type NonceStoreOption func(*NonceStore)

// WithNonceClock injects a custom clock (useful for tests).
func WithNonceClock(clock func() time.Time) NonceStoreOption {
	return func(s *NonceStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithNonceLogger overrides the store logger.
func WithNonceLogger(logger Logger) NonceStoreOption {
	return func(s *NonceStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewNonceStore creates a store with the given TTL.
func NewNonceStore(ttl time.Duration, opts ...NonceStoreOption) *NonceStore {
	s := &NonceStore{
		entries: make(map[string]NonceRecord),
		ttl:     ttl,
		now:     time.Now,
		logger:  defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Issue returns the live nonce for address, generating a new one when none
// exists or the previous one expired. Re-requesting within the TTL window
// is idempotent.
func (s *NonceStore) Issue(address string) (string, error) {
	addr, err := normalizeAddress(address)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.entries[addr]; ok && now.Sub(rec.IssuedAt) < s.ttl {
		return rec.Nonce, nil
	}

	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	s.entries[addr] = NonceRecord{
		Address:  addr,
		Nonce:    nonce,
		IssuedAt: now,
	}

	return nonce, nil
}

// Get returns the stored record for address without consuming it.
func (s *NonceStore) Get(address string) (NonceRecord, bool) {
	addr, err := normalizeAddress(address)
	if err != nil {
		return NonceRecord{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[addr]
	return rec, ok
}

// Consume deletes the record for address if the supplied nonce matches the
// stored value byte for byte. It reports whether a record was consumed, so
// exactly one of two racing verifications can succeed.
func (s *NonceStore) Consume(address, nonce string) bool {
	addr, err := normalizeAddress(address)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[addr]
	if !ok || rec.Nonce != nonce {
		return false
	}

	delete(s.entries, addr)
	return true
}

// Delete removes the record for address unconditionally.
func (s *NonceStore) Delete(address string) {
	addr, err := normalizeAddress(address)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, addr)
}

// Expired reports whether the record is past the store TTL at now.
func (s *NonceStore) Expired(rec NonceRecord, now time.Time) bool {
	return now.Sub(rec.IssuedAt) > s.ttl
}

// Sweep removes every expired record and returns the number removed.
func (s *NonceStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for addr, rec := range s.entries {
		if now.Sub(rec.IssuedAt) > s.ttl {
			delete(s.entries, addr)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("nonce sweep removed expired records", "count", removed)
	}

	return removed
}

// Len returns the number of stored records.
func (s *NonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func generateNonce() (string, error) {
	buf := make([]byte, nonceByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate nonce")
	}
	return hex.EncodeToString(buf), nil
}

func normalizeAddress(address string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == "" || !common.IsHexAddress(addr) {
		return "", withMetadata(ErrInvalidInput, map[string]any{
			"field": "address",
		})
	}
	return addr, nil
}
