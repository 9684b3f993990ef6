package keyhash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// Hash returns the Argon2id encoding stored in ADMIN_API_KEYS.
func Hash(key string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, saltB64, hashB64), nil
}

// Valid reports whether encoded is a well formed Argon2id hash.
func Valid(encoded string) bool {
	_, _, _, ok := decode(encoded)
	return ok
}

// Verify checks whether key matches the encoded Argon2id hash.
func Verify(key, encoded string) bool {
	params, salt, hash, ok := decode(encoded)
	if !ok {
		return false
	}

	check := argon2.IDKey([]byte(key), salt, params.time, params.memory, params.threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

func decode(encoded string) (argonParams, []byte, []byte, bool) {
	parts := strings.Split(strings.TrimSpace(encoded), "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return argonParams{}, nil, nil, false
	}

	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return argonParams{}, nil, nil, false
	}

	m, ok := strings.CutPrefix(params[0], "m=")
	if !ok {
		return argonParams{}, nil, nil, false
	}
	t, ok := strings.CutPrefix(params[1], "t=")
	if !ok {
		return argonParams{}, nil, nil, false
	}
	p, ok := strings.CutPrefix(params[2], "p=")
	if !ok {
		return argonParams{}, nil, nil, false
	}

	m64, err := strconv.ParseUint(m, 10, 32)
	if err != nil {
		return argonParams{}, nil, nil, false
	}
	t64, err := strconv.ParseUint(t, 10, 32)
	if err != nil {
		return argonParams{}, nil, nil, false
	}
	p64, err := strconv.ParseUint(p, 10, 8)
	if err != nil {
		return argonParams{}, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argonParams{}, nil, nil, false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return argonParams{}, nil, nil, false
	}

	return argonParams{memory: uint32(m64), time: uint32(t64), threads: uint8(p64)}, salt, hash, true
}
