// Package session orchestrates one voice interview session: configuration
// validation, the protocol client lifecycle, and session-level events with
// telemetry hooks.
package session

import (
	"net/url"
	"time"

	apperr "github.com/prepdeck/voicecore/internal/errors"
	"github.com/prepdeck/voicecore/internal/realtime"
	"github.com/prepdeck/voicecore/internal/resilience"
)

// Options is the immutable session configuration. It is validated at
// construction time — invalid values fail there, before any network activity.
type Options struct {
	// Endpoint is the realtime resource base URL.
	Endpoint string

	// APIKey authenticates against the endpoint.
	APIKey string

	// Deployment is the realtime model deployment id.
	Deployment string

	// Temperature must be in [0, 1].
	Temperature float64

	// MaxResponseTokens must be positive.
	MaxResponseTokens int

	// Voice selects the response voice.
	Voice string

	// Instructions is the interviewer system prompt.
	Instructions string

	// TurnDetection configures server-side voice activity detection.
	TurnDetection realtime.TurnDetection

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// AutoReconnect enables protocol-level reconnection.
	AutoReconnect bool

	// Backoff governs reconnect delays.
	Backoff resilience.Backoff
}

// Validate checks the options, returning a distinct CONFIG_INVALID error per
// violation.
func (o Options) Validate() error {
	if o.APIKey == "" {
		return apperr.New(apperr.CodeConfigInvalid, "api key is empty")
	}
	u, err := url.Parse(o.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return apperr.Newf(apperr.CodeConfigInvalid, "malformed endpoint %q", o.Endpoint)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return apperr.Newf(apperr.CodeConfigInvalid, "unsupported endpoint scheme %q", u.Scheme)
	}
	if o.Deployment == "" {
		return apperr.New(apperr.CodeConfigInvalid, "deployment id is empty")
	}
	if o.Temperature < 0 || o.Temperature > 1 {
		return apperr.Newf(apperr.CodeConfigInvalid, "temperature %v outside [0, 1]", o.Temperature)
	}
	if o.MaxResponseTokens <= 0 {
		return apperr.Newf(apperr.CodeConfigInvalid, "max response tokens %d must be positive", o.MaxResponseTokens)
	}
	return nil
}
