package artifact

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// tokenWithPayload builds a three-segment token around the given payload
// object, with base64url padding stripped the way real tokens carry it.
func tokenWithPayload(t *testing.T, payload map[string]interface{}) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	encoded := strings.TrimRight(base64.URLEncoding.EncodeToString(raw), "=")
	return "header." + encoded + ".signature"
}

func TestExtractBackendIDs(t *testing.T) {
	token := tokenWithPayload(t, map[string]interface{}{
		"scp": "Actions.ExampleScope Actions.Results:run-123:job-456",
	})

	ids, err := ExtractBackendIDs(token)
	if err != nil {
		t.Fatalf("ExtractBackendIDs: %v", err)
	}
	if ids.WorkflowRunBackendID != "run-123" {
		t.Errorf("run backend id = %q, want %q", ids.WorkflowRunBackendID, "run-123")
	}
	if ids.WorkflowJobRunBackendID != "job-456" {
		t.Errorf("job backend id = %q, want %q", ids.WorkflowJobRunBackendID, "job-456")
	}
}

func TestExtractBackendIDsPaddingVariants(t *testing.T) {
	// Identifiers of different lengths exercise payloads needing 0-3
	// padding characters.
	for _, runID := range []string{"1", "12", "123", "1234", "12345"} {
		ids, err := ExtractBackendIDs(tokenWithPayload(t, map[string]interface{}{
			"scp": "Actions.Results:" + runID + ":j",
		}))
		if err != nil {
			t.Fatalf("runID %q: %v", runID, err)
		}
		if ids.WorkflowRunBackendID != runID {
			t.Errorf("runID = %q, want %q", ids.WorkflowRunBackendID, runID)
		}
	}
}

func TestExtractBackendIDsFirstMatchingScopeWins(t *testing.T) {
	ids, err := ExtractBackendIDs(tokenWithPayload(t, map[string]interface{}{
		"scp": "Actions.Results:too:many:parts Actions.Results:a:b Actions.Results:c:d",
	}))
	if err != nil {
		t.Fatalf("ExtractBackendIDs: %v", err)
	}
	if ids.WorkflowRunBackendID != "a" || ids.WorkflowJobRunBackendID != "b" {
		t.Errorf("got %+v, want a/b", ids)
	}
}

func TestExtractBackendIDsMalformed(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"no segments", "notatoken"},
		{"single segment", "header"},
		{"invalid base64", "header.!!!not-base64!!!.sig"},
		{"payload not json object", "header." + base64.URLEncoding.EncodeToString([]byte("[1,2]")) + ".sig"},
		{"payload not json", "header." + base64.URLEncoding.EncodeToString([]byte("garbage")) + ".sig"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ExtractBackendIDs(tc.token)
			if err == nil {
				t.Fatal("expected error")
			}
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if e.Code != ErrCodeMalformedCredential {
				t.Errorf("code = %q, want %q", e.Code, ErrCodeMalformedCredential)
			}
			if !IsCredential(err) {
				t.Error("expected credential classification")
			}
		})
	}
}

func TestExtractBackendIDsMissingScope(t *testing.T) {
	cases := []map[string]interface{}{
		{"scp": "Actions.ExampleScope Actions.Other:a:b"},
		{"scp": "Actions.Results:only-one"},
		{"scp": "Actions.Results:one:two:three"},
		{"scp": ""},
		{"sub": "repo:octo/repo"},
	}

	for _, payload := range cases {
		_, err := ExtractBackendIDs(tokenWithPayload(t, payload))
		if err == nil {
			t.Fatalf("payload %v: expected error", payload)
		}
		var e *Error
		if !errors.As(err, &e) || e.Code != ErrCodeMissingScope {
			t.Errorf("payload %v: expected %s, got %v", payload, ErrCodeMissingScope, err)
		}
	}
}
