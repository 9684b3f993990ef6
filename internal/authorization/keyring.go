package authorization

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/reconciler/internal/authorization/keyhash"
	"github.com/smallbiznis/reconciler/internal/config"
	"go.uber.org/zap"
)

type keyEntry struct {
	subject string
	role    string
	hash    string
}

// KeyRing holds the hashed admin API keys. Plain keys are never stored.
type KeyRing struct {
	entries []keyEntry
}

func NewKeyRing(cfg config.Config, log *zap.Logger) (*KeyRing, error) {
	ring, err := ParseKeyRing(cfg.AdminAPIKeys)
	if err != nil {
		return nil, err
	}
	if ring.Len() == 0 {
		log.Named("authorization").Warn("no admin api keys configured; admin endpoints will reject every request")
	}
	return ring, nil
}

// ParseKeyRing reads "role=hash;role=hash" pairs.
func ParseKeyRing(raw string) (*KeyRing, error) {
	ring := &KeyRing{}
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		role, hash, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("%w: entry %d has no role", ErrInvalidKeyRing, len(ring.entries)+1)
		}
		role = normalizeRole(role)
		hash = strings.TrimSpace(hash)
		if role == "" {
			return nil, fmt.Errorf("%w: entry %d has an empty role", ErrInvalidKeyRing, len(ring.entries)+1)
		}
		if !keyhash.Valid(hash) {
			return nil, fmt.Errorf("%w: entry %d is not an argon2id hash", ErrInvalidKeyRing, len(ring.entries)+1)
		}

		ring.entries = append(ring.entries, keyEntry{
			subject: fmt.Sprintf("api_key:%d", len(ring.entries)+1),
			role:    role,
			hash:    hash,
		})
	}
	return ring, nil
}

func (k *KeyRing) Len() int {
	if k == nil {
		return 0
	}
	return len(k.entries)
}

// Authenticate resolves a presented key to its principal.
func (k *KeyRing) Authenticate(key string) (Principal, error) {
	key = strings.TrimSpace(key)
	if key == "" || k == nil {
		return Principal{}, ErrUnauthorized
	}
	for _, entry := range k.entries {
		if keyhash.Verify(key, entry.hash) {
			return Principal{Subject: entry.subject, Role: entry.role}, nil
		}
	}
	return Principal{}, ErrUnauthorized
}

func normalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ""
	}
	if !strings.HasPrefix(role, "role:") {
		role = "role:" + role
	}
	if role == "role:" {
		return ""
	}
	return role
}
