package interfaces

import (
	"context"
	"net/http"
)

// AttestationVerifier validates device attestation assertions attached to
// mutating requests.
//
// Verification of real platform assertions is not implemented here; callers
// depend on this interface so a platform-specific verifier can be substituted
// without touching any handler code. The shipped implementation is a policy
// stub (see cryptoutils.StubAttestationVerifier).
type AttestationVerifier interface {
	// Verify inspects the assertion supplied with the request. An empty
	// assertion means the client did not attach one. A non-nil error means
	// the request must be rejected with an attestation failure.
	Verify(ctx context.Context, assertion string, r *http.Request) error
}
