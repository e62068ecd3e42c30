// internal/api/mask_test.go

package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"5035551234", "***1234"},
		{"+15035551234", "***1234"},
		{"(503) 555-1234", "***1234"},
		{"1234", "***"},
		{"12", "***"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskPhone(tt.input), tt.input)
	}
}

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"dana.reyes@example.com", "da***@example.com"},
		{"ab@example.com", "ab***@example.com"},
		{"a@example.com", "a***@example.com"},
		{"not-an-email", "***"},
		{"@example.com", "***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskEmail(tt.input), tt.input)
	}
}

func TestMaskRecipient(t *testing.T) {
	assert.Equal(t, "da***@example.com", maskRecipient("dana.reyes@example.com"))
	assert.Equal(t, "***1234", maskRecipient("+15035551234"))
}
