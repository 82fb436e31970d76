package cryptoutils

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shelfmate/sharing-backend/interfaces"
)

// StubAttestationVerifier is the placeholder device attestation verifier.
//
// Real assertion verification requires platform-held keys and vendor services
// and is deliberately not implemented here; it plugs in behind
// interfaces.AttestationVerifier. The stub applies one uniform policy:
// requests without an assertion are always accepted, and requests that do
// carry one are accepted or rejected depending on RejectAsserted.
//
// RejectAsserted true is the fail-closed stance: an assertion we cannot verify
// is not an assertion we can accept.
type StubAttestationVerifier struct {
	// RejectAsserted rejects any request that supplies an assertion.
	RejectAsserted bool
}

// Verify implements interfaces.AttestationVerifier.
func (v *StubAttestationVerifier) Verify(ctx context.Context, assertion string, r *http.Request) error {
	if assertion == "" {
		return nil
	}
	if v.RejectAsserted {
		return fmt.Errorf("%w: assertion verification not available", interfaces.ErrAttestationRejected)
	}
	return nil
}

var _ interfaces.AttestationVerifier = (*StubAttestationVerifier)(nil)
