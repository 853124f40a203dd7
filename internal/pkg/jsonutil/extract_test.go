package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `{"action":"buy"}`, `{"action":"buy"}`, true},
		{"prose around", "Sure! {\"a\":{\"b\":1}} hope this helps", `{"a":{"b":1}}`, true},
		{"fenced with tag", "```json\n{\"action\":\"hold\"}\n```", `{"action":"hold"}`, true},
		{"fenced no tag", "```\n{\"x\":1}\n```", `{"x":1}`, true},
		{"braces in strings", `{"r":"use } and { freely"}`, `{"r":"use } and { freely"}`, true},
		{"escaped quote", `{"r":"say \"}\""}`, `{"r":"say \"}\""}`, true},
		{"unbalanced", `{"a":1`, "", false},
		{"none", "no json here", "", false},
		{"empty", "   ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
