package broker

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// AttestationVerifier submits a keccak-256 digest of the response content
// to the provider's attestation endpoint and reports whether the provider
// attests to having produced it.
type AttestationVerifier struct {
	BaseURL string
	Client  *http.Client
}

func NewAttestationVerifier(baseURL string) *AttestationVerifier {
	return &AttestationVerifier{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ContentDigest returns the hex keccak-256 of content, the form the
// attestation endpoint expects.
func ContentDigest(content string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

type attestationReq struct {
	ProviderAddress string `json:"provider_address"`
	ContentDigest   string `json:"content_digest"`
}

type attestationResp struct {
	Valid bool `json:"valid"`
}

func (v *AttestationVerifier) VerifyResponse(ctx context.Context, providerAddress, content string) (bool, error) {
	body, err := json.Marshal(attestationReq{
		ProviderAddress: providerAddress,
		ContentDigest:   ContentDigest(content),
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.BaseURL+"/attestation/verify", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("verifier returned status %d", resp.StatusCode)
	}

	var out attestationResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	return out.Valid, nil
}
