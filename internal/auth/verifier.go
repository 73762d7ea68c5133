package auth

import "context"

// SignatureVerifier checks that signature was produced by the holder of
// walletAddress over the login nonce. Recovering a secp256k1 signer is left
// to deployments that wire a real implementation; the dev verifier only
// checks that a signature is present.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, walletAddress, nonce, signature string) (bool, error)
}

type DevSignatureVerifier struct{}

func (DevSignatureVerifier) VerifySignature(_ context.Context, _, _, signature string) (bool, error) {
	return signature != "", nil
}
