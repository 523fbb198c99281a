package ident

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRoomCodeShape(t *testing.T) {
	code, err := GenerateRoomCode(context.Background(), func(ctx context.Context, c string) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.Len(t, code, CodeLength)
	assert.True(t, ValidRoomCode(code), "generated code %q should validate", code)
}

func TestGenerateRoomCodeRetriesThenFails(t *testing.T) {
	calls := 0
	_, err := GenerateRoomCode(context.Background(), func(ctx context.Context, c string) (bool, error) {
		calls++
		return true, nil // every code taken
	})
	assert.ErrorIs(t, err, ErrCodeCollision)
	assert.Equal(t, 10, calls)
}

func TestGenerateRoomCodeSkipsTaken(t *testing.T) {
	calls := 0
	code, err := GenerateRoomCode(context.Background(), func(ctx context.Context, c string) (bool, error) {
		calls++
		return calls < 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, code, CodeLength)
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  Alice  ", "Alice"},
		{"Bob<script>", "Bobscript"},
		{"under_score-ok 99", "under_score-ok 99"},
		{"ThisNameIsWayTooLongForTheLobby", "ThisNameIsWayTooLong"},
		{"\x00\x01ctrl", "ctrl"},
		{"émoji🎮name", "mojiname"},
		{"   ", ""},
		{"---", "---"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SanitizeName(c.in), "input %q", c.in)
	}
}

func TestSanitizeNameTruncationTrimsTrailingSpace(t *testing.T) {
	// 19 chars + space + more: the cut must not leave a dangling space.
	got := SanitizeName("nineteen chars xx a bcdef")
	assert.False(t, strings.HasSuffix(got, " "))
	assert.LessOrEqual(t, len(got), MaxNameLength)
}

func TestSanitizeRoomCode(t *testing.T) {
	assert.Equal(t, "XYZ123", SanitizeRoomCode(" xyz-123 "))
	assert.Equal(t, "ABC", SanitizeRoomCode("a b c"))
	assert.Equal(t, "", SanitizeRoomCode("!!!"))
}

func TestValidRoomCode(t *testing.T) {
	assert.True(t, ValidRoomCode("XYZ123"))
	assert.False(t, ValidRoomCode("xyz123"))
	assert.False(t, ValidRoomCode("XYZ12"))
	assert.False(t, ValidRoomCode("XYZ1234"))
	assert.False(t, ValidRoomCode("XYZ12!"))
}

func TestSanitizeMessage(t *testing.T) {
	assert.Equal(t, "hello", SanitizeMessage("  hello  "))
	assert.Equal(t, "hi>alert(1)", SanitizeMessage("hi<SCRIPT>alert(1)"))
	assert.NotContains(t, SanitizeMessage("x javascript:evil()"), "javascript:")

	long := strings.Repeat("a", 600)
	assert.Len(t, SanitizeMessage(long), MaxMessageLength)
}

func TestSanitizeMessagePreservesLength(t *testing.T) {
	// A clean message must come back byte-identical.
	msg := strings.Repeat("ok ", 100)
	assert.Equal(t, strings.TrimSpace(msg), SanitizeMessage(msg))
}

func TestSanitizeSettingsRejectsReservedKeys(t *testing.T) {
	for _, key := range []string{"__proto__", "constructor", "prototype", " CONSTRUCTOR "} {
		_, err := SanitizeSettings(map[string]interface{}{key: 1})
		assert.ErrorIs(t, err, ErrDangerousKey, "key %q", key)
	}
}

func TestSanitizeSettingsRejectsNestedReservedKeys(t *testing.T) {
	_, err := SanitizeSettings(map[string]interface{}{
		"display": map[string]interface{}{
			"theme": map[string]interface{}{"__proto__": "x"},
		},
	})
	assert.ErrorIs(t, err, ErrDangerousKey)

	_, err = SanitizeSettings(map[string]interface{}{
		"list": []interface{}{
			map[string]interface{}{"prototype": true},
		},
	})
	assert.ErrorIs(t, err, ErrDangerousKey)
}

func TestSanitizeSettingsPassesCleanMap(t *testing.T) {
	in := map[string]interface{}{
		"rounds": 3.0,
		"nested": map[string]interface{}{"timer": 60.0},
	}
	out, err := SanitizeSettings(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSanitizeSettingsDepthBound(t *testing.T) {
	deep := map[string]interface{}{}
	cur := deep
	for i := 0; i < 32; i++ {
		next := map[string]interface{}{}
		cur["d"] = next
		cur = next
	}
	_, err := SanitizeSettings(deep)
	assert.Error(t, err)
}

func TestSanitizeSettingsNil(t *testing.T) {
	out, err := SanitizeSettings(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}
