package proto

import (
	"strings"
	"testing"
)

func TestValidateJoinAccepts(t *testing.T) {
	req, err := ValidateJoin([]byte(`{"ver":1,"type":"join","name":"zed"}`))
	if err != nil {
		t.Fatalf("expected valid join, got %v", err)
	}
	if req.Name != "zed" {
		t.Fatalf("expected name decoded, got %q", req.Name)
	}
}

func TestValidateJoinRejects(t *testing.T) {
	cases := map[string]string{
		"wrong type":       `{"ver":1,"type":"input","name":"zed"}`,
		"missing name":     `{"ver":1,"type":"join"}`,
		"empty name":       `{"ver":1,"type":"join","name":""}`,
		"extra property":   `{"ver":1,"type":"join","name":"zed","admin":true}`,
		"wrong version":    `{"ver":99,"type":"join","name":"zed"}`,
		"not even json":    `hello`,
		"name over budget": `{"ver":1,"type":"join","name":"` + strings.Repeat("x", 40) + `"}`,
	}
	for label, raw := range cases {
		if _, err := ValidateJoin([]byte(raw)); err == nil {
			t.Fatalf("expected %s to be rejected", label)
		}
	}
}
