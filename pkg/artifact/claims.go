package artifact

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// resultsScope is the scope namespace.subject that carries the backend IDs in
// the runtime token's scp claim.
const resultsScope = "Actions.Results"

// BackendIDs are the two opaque identifiers scoping every results-service
// call to the current workflow run and job.
type BackendIDs struct {
	WorkflowRunBackendID    string
	WorkflowJobRunBackendID string
}

// ExtractBackendIDs decodes the runtime token's payload segment without
// verifying its signature and extracts the backend IDs from the scp claim.
//
// The scp claim looks like:
//
//	"Actions.ExampleScope Actions.Results:<runBackendId>:<jobBackendId>"
//
// Signature verification is deliberately skipped: the token reaches this
// process from the platform that minted it, and the claims only address the
// caller's own run.
func ExtractBackendIDs(token string) (BackendIDs, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return BackendIDs{}, newError(ErrorClassCredential, ErrCodeMalformedCredential,
			"extract-claims", "token does not have a payload segment")
	}

	payload := parts[1]
	// Restore base64url padding to the next multiple of 4
	if pad := len(payload) % 4; pad != 0 {
		payload += strings.Repeat("=", 4-pad)
	}

	decoded, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return BackendIDs{}, newError(ErrorClassCredential, ErrCodeMalformedCredential,
			"extract-claims", "payload segment is not valid base64url").WithErr(err)
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return BackendIDs{}, newError(ErrorClassCredential, ErrCodeMalformedCredential,
			"extract-claims", "payload is not a JSON object").WithErr(err)
	}

	scp, _ := claims["scp"].(string)
	for _, scope := range strings.Split(scp, " ") {
		scopeParts := strings.Split(scope, ":")
		if scopeParts[0] == resultsScope && len(scopeParts) == 3 {
			return BackendIDs{
				WorkflowRunBackendID:    scopeParts[1],
				WorkflowJobRunBackendID: scopeParts[2],
			}, nil
		}
	}

	return BackendIDs{}, newError(ErrorClassCredential, ErrCodeMissingScope,
		"extract-claims", fmt.Sprintf("no %s scope found in token claims", resultsScope))
}
