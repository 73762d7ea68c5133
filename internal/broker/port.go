package broker

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is one inference provider on the network, addressed by its
// on-chain provider address and reached over its OpenAI-compatible
// endpoint.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

// Verifier checks the attestation of an assistant response produced by a
// provider. The result maps onto the tri-state is_verified flag: (true,
// nil) verified, (false, nil) failed verification, err means the attempt
// itself did not complete.
type Verifier interface {
	VerifyResponse(ctx context.Context, providerAddress, content string) (bool, error)
}
