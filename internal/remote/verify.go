package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"
)

const verifyPath = "/functions/v1/verify-image"

// VerifyRequest is one photo plus the text it must agree with.
type VerifyRequest struct {
	Photo       []byte
	MimeType    string
	Category    string
	Description string
}

// VerifyResult is the verifier's decision. The error strings are set only when
// the matching check failed.
type VerifyResult struct {
	Verified         bool
	ImageError       string
	DescriptionError string
}

type verifyPayload struct {
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type verifyResponse struct {
	IsVerified                     bool   `json:"is_verified"`
	ImageContentVerified           bool   `json:"image_content_verified"`
	ImageVerificationMessage       string `json:"image_verification_message"`
	DescriptionKeywordVerified     bool   `json:"description_keyword_verified"`
	DescriptionVerificationMessage string `json:"description_verification_message"`
}

// Verifier calls the AI content verification function.
type Verifier struct {
	client  *Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewVerifier paces calls at rps with the given burst. Each call is bounded by timeout.
func NewVerifier(client *Client, rps float64, burst int, timeout time.Duration) *Verifier {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Verifier{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
	}
}

// Verify checks that the photo and description match the category.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	session := v.client.sessions.Current()
	if session.AuthToken == "" {
		return VerifyResult{}, &Error{Kind: ErrAuthExpired, Message: msgSessionExpired, Detail: "no auth token"}
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return VerifyResult{}, &Error{Kind: ErrVerificationFailed, Message: msgTimeout, Detail: err.Error()}
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(req.Photo).String()
	}
	payload, err := json.Marshal(verifyPayload{
		ImageBase64: base64.StdEncoding.EncodeToString(req.Photo),
		MimeType:    mimeType,
		Category:    req.Category,
		Description: req.Description,
	})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.client.doRequest(ctx, http.MethodPost, verifyPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return VerifyResult{}, &Error{Kind: ErrVerificationFailed, Message: msgTimeout, Detail: err.Error()}
		}
		return VerifyResult{}, &Error{Kind: ErrVerificationFailed, Message: "Verification failed. Please try again.", Detail: err.Error()}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return VerifyResult{}, classifyVerifyFailure(resp.StatusCode, readErrorBody(resp))
	}

	var decoded *verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil || decoded == nil {
		detail := "empty body"
		if err != nil {
			detail = err.Error()
		}
		return VerifyResult{}, &Error{Kind: ErrVerificationFailed, Message: msgNoResponse, Detail: detail}
	}

	if decoded.IsVerified {
		return VerifyResult{Verified: true}, nil
	}

	result := VerifyResult{}
	if !decoded.ImageContentVerified {
		result.ImageError = decoded.ImageVerificationMessage
		if result.ImageError == "" {
			result.ImageError = "Image does not match the selected category"
		}
	}
	if !decoded.DescriptionKeywordVerified {
		result.DescriptionError = decoded.DescriptionVerificationMessage
		if result.DescriptionError == "" {
			result.DescriptionError = "Description does not match the selected category"
		}
	}
	return result, nil
}

// classifyVerifyFailure maps an HTTP failure to an error kind and a reporter-facing message.
func classifyVerifyFailure(status int, body string) *Error {
	var parsed struct {
		Message string `json:"message"`
		Details string `json:"details"`
		Error   string `json:"error"`
	}
	detail := body
	message := ""
	if json.Unmarshal([]byte(body), &parsed) == nil {
		message = parsed.Message
		for _, candidate := range []string{parsed.Message, parsed.Details, parsed.Error} {
			if candidate != "" {
				detail = candidate
				break
			}
		}
	} else if len(detail) > 200 {
		detail = detail[:200]
	}

	e := &Error{StatusCode: status, Detail: detail}
	switch status {
	case http.StatusUnauthorized:
		e.Kind = ErrAuthExpired
		e.Message = msgSessionExpired
	case http.StatusBadGateway:
		e.Kind = ErrUpstreamOverloaded
		lower := strings.ToLower(detail + " " + message)
		switch {
		case strings.Contains(lower, "overloaded") || strings.Contains(lower, "too many requests"):
			e.Message = msgOverloaded
		case strings.TrimSpace(message) != "":
			e.Message = message
		default:
			e.Message = msgGatewayDown
		}
	case http.StatusServiceUnavailable:
		e.Kind = ErrUpstreamOverloaded
		e.Message = msgServiceDown
	case http.StatusTooManyRequests:
		e.Kind = ErrUpstreamOverloaded
		e.Message = msgTooManyRequests
	case http.StatusInternalServerError:
		e.Kind = ErrVerificationFailed
		e.Message = msgServerError
	default:
		e.Kind = ErrVerificationFailed
		switch {
		case message != "":
			e.Message = message
		case detail != "":
			e.Message = detail
		default:
			e.Message = fmt.Sprintf("Verification failed. Please try again. (Error %d)", status)
		}
	}
	return e
}
