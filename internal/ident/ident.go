// Package ident generates room codes and normalizes client-supplied
// strings before they touch room state. Everything here is pure apart
// from the randomness in GenerateRoomCode.
package ident

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CodeLength   = 6

	MaxNameLength    = 20
	MaxMessageLength = 500

	codeRetries = 10
)

// ErrCodeCollision is returned when rejection sampling cannot find a free
// room code within the retry budget. Callers surface it as a generic
// creation failure; the code itself never reaches clients.
var ErrCodeCollision = errors.New("room code collision: retries exhausted")

// CodeExistsFunc reports whether a code is already held by a live room.
type CodeExistsFunc func(ctx context.Context, code string) (bool, error)

// GenerateRoomCode draws 6-character uppercase alphanumeric codes until
// one is free, giving up after 10 collisions.
func GenerateRoomCode(ctx context.Context, exists CodeExistsFunc) (string, error) {
	for i := 0; i < codeRetries; i++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrCodeCollision
}

func randomCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(CodeLength)
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}

// SanitizeName trims, restricts to [A-Za-z0-9 _-], and truncates to 20
// characters. An empty result means the name was unusable.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if len(out) > MaxNameLength {
		out = strings.TrimSpace(out[:MaxNameLength])
	}
	return out
}

// SanitizeRoomCode uppercases and strips every non-alphanumeric rune.
// It does not enforce length; validators check that separately.
func SanitizeRoomCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	var b strings.Builder
	for _, r := range code {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidRoomCode reports whether code is exactly 6 uppercase alphanumerics.
func ValidRoomCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// scriptFragments are stripped from chat messages case-insensitively.
var scriptFragments = []string{
	"<script", "</script", "javascript:", "onerror=", "onload=", "onclick=",
}

// SanitizeMessage trims, removes script-like substrings, and truncates to
// 500 characters.
func SanitizeMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	lower := strings.ToLower(msg)
	for _, frag := range scriptFragments {
		for {
			idx := strings.Index(lower, frag)
			if idx < 0 {
				break
			}
			msg = msg[:idx] + msg[idx+len(frag):]
			lower = lower[:idx] + lower[idx+len(frag):]
		}
	}
	msg = strings.TrimSpace(msg)
	if len(msg) > MaxMessageLength {
		msg = msg[:MaxMessageLength]
	}
	return msg
}

// dangerousKeys can rebind object internals on sloppy clients; settings
// maps carrying them are rejected wholesale.
var dangerousKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// ErrDangerousKey is returned by SanitizeSettings when a reserved key is
// present anywhere in the map tree.
var ErrDangerousKey = errors.New("settings contain a reserved key")

// SanitizeSettings walks a settings map recursively and rejects reserved
// keys at any depth. The map is returned unmodified on success so callers
// can pass it through to game servers.
func SanitizeSettings(settings map[string]interface{}) (map[string]interface{}, error) {
	if settings == nil {
		return nil, nil
	}
	if err := walkSettings(settings, 0); err != nil {
		return nil, err
	}
	return settings, nil
}

// walkSettings bounds recursion depth so a self-referencing payload from
// a hostile client cannot blow the stack.
func walkSettings(m map[string]interface{}, depth int) error {
	if depth > 16 {
		return errors.New("settings nested too deeply")
	}
	for k, v := range m {
		if dangerousKeys[strings.ToLower(strings.TrimSpace(k))] {
			return ErrDangerousKey
		}
		switch child := v.(type) {
		case map[string]interface{}:
			if err := walkSettings(child, depth+1); err != nil {
				return err
			}
		case []interface{}:
			for _, item := range child {
				if cm, ok := item.(map[string]interface{}); ok {
					if err := walkSettings(cm, depth+1); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}
