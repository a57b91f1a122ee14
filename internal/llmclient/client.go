// Package llmclient is the LLM Client (spec component 4.D): a
// provider-neutral chat+tool-call interface with concrete Anthropic,
// OpenAI and Gemini adapters, retry/backoff and token estimation.
package llmclient

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/BaSui01/tasker/types"
)

// Client is the canonical interface the agent run loop drives. Every
// provider adapter implements the same shape so the loop never branches
// on provider identity.
type Client interface {
	Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error)
	Name() string
}

// defaultTLSConfig-equivalent hardening lives in secureHTTPClient below;
// kept in this package rather than a shared internal/tlsutil since only
// the LLM client makes outbound calls.
func secureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          50,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// readErrorBody caps how much of an error body we read/log, mirroring
// the truncation discipline the browser driver applies to JS results.
func readErrorBody(body []byte, limit int) string {
	if len(body) > limit {
		return string(body[:limit]) + "...[truncated]"
	}
	return string(body)
}
