package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/auralis-app/auralis/pkg/provider/stt"
)

// buildURL constructs the Deepgram streaming endpoint URL for the given
// config. Pure: no network, fully testable.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Auralis:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// authHeader builds the upgrade request headers carrying the API credential.
func authHeader(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token "+apiKey)
	return h
}

// classifyHandshake turns a failed websocket dial into a *stt.HandshakeError.
// resp may be nil when the failure happened before any HTTP response (DNS,
// refused connection, TLS, timeout).
func classifyHandshake(resp *http.Response, err error) *stt.HandshakeError {
	he := &stt.HandshakeError{Err: err}

	if resp != nil {
		he.Status = resp.StatusCode
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			he.Reason = "authentication rejected"
		default:
			he.Reason = "upgrade rejected"
		}
		return he
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		he.Reason = "handshake timed out"
	case errors.Is(err, context.Canceled):
		he.Reason = "handshake cancelled"
	default:
		he.Reason = "connection failed"
	}
	return he
}
