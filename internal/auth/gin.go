package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	HeaderToken = "X-Access-Token"
	QueryToken  = "token"

	// MaxTokenBody bounds the JSON body read while looking for a token.
	MaxTokenBody = 1 << 20
)

// ErrBodyTooLarge is returned when a JSON body exceeds MaxTokenBody.
var ErrBodyTooLarge = errors.New("auth: request body too large")

// TokenFromRequest looks for the token in the query string, then a JSON body
// field named "token", then the X-Access-Token header. The request body is
// restored for later handlers.
func TokenFromRequest(r *http.Request) (string, error) {
	if tok := strings.TrimSpace(r.URL.Query().Get(QueryToken)); tok != "" {
		return tok, nil
	}
	tok, err := tokenFromBody(r)
	if err != nil {
		return "", err
	}
	if tok != "" {
		return tok, nil
	}
	return strings.TrimSpace(r.Header.Get(HeaderToken)), nil
}

func tokenFromBody(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		return "", nil
	}
	orig := r.Body
	raw, err := io.ReadAll(io.LimitReader(orig, MaxTokenBody+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), orig), orig}
	if len(raw) > MaxTokenBody {
		return "", ErrBodyTooLarge
	}
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return "", nil
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", nil
	}
	return strings.TrimSpace(body.Token), nil
}

// TokenGate rejects requests without a token (400) or with a token the
// validator refuses (403).
func TokenGate(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := TokenFromRequest(c.Request)
		if errors.Is(err, ErrBodyTooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		err = v.Validate(tok)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, ErrTokenMissing):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "token required"})
		default:
			log.Warn().
				Str("path", c.FullPath()).
				Str("remote", c.ClientIP()).
				Msg("auth_denied")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied: invalid token"})
		}
	}
}
