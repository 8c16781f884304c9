// Package schedauth decides whether an inbound cron request really comes from
// the scheduler.
package schedauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	SignatureHeader = "Upstash-Signature"
	APIKeyHeader    = "X-Api-Key"
	issuer          = "Upstash"
)

type Method string

const (
	MethodSignature         Method = "signature"
	MethodAPIKey            Method = "api_key"
	MethodSignatureHeaderUA Method = "signature_header_user_agent"
	MethodFallbackUA        Method = "fallback_user_agent"
)

type Decision struct {
	Authorized bool
	Method     Method
}

type Config struct {
	CurrentSigningKey string
	NextSigningKey    string
	APIKey            string
	UserAgent         string
	// BaseURL, when set, is joined with the request URI and compared with the
	// token subject.
	BaseURL       string
	Production    bool
	AllowFallback bool
}

type Authenticator struct {
	cfg Config
	now func() time.Time
	log zerolog.Logger
}

type Option func(*Authenticator)

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Authenticator) { a.log = l }
}

func New(cfg Config, opts ...Option) *Authenticator {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Upstash-QStash"
	}
	a := &Authenticator{
		cfg: cfg,
		now: time.Now,
		log: log.With().Str("component", "scheduler_auth").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize accepts the first check that passes: a verified signature, the
// static API key, the signature header together with the scheduler user agent,
// or (production with fallback enabled only) the user agent alone.
func (a *Authenticator) Authorize(r *http.Request, body []byte) Decision {
	signature := r.Header.Get(SignatureHeader)
	userAgent := r.Header.Get("User-Agent")
	fromScheduler := strings.Contains(userAgent, a.cfg.UserAgent)
	logger := a.log.With().Str("path", r.URL.Path).Logger()

	if signature != "" {
		err := a.verifySignature(r, signature, body)
		if err == nil {
			return a.allow(logger, MethodSignature)
		}
		logger.Debug().Err(err).Msg("scheduler signature rejected")
	}

	if key := r.Header.Get(APIKeyHeader); key != "" && a.cfg.APIKey != "" &&
		subtle.ConstantTimeCompare([]byte(key), []byte(a.cfg.APIKey)) == 1 {
		return a.allow(logger, MethodAPIKey)
	}

	if signature != "" && fromScheduler {
		return a.allow(logger, MethodSignatureHeaderUA)
	}

	if a.cfg.Production && a.cfg.AllowFallback && fromScheduler {
		logger.Warn().Msg("authorizing cron request by user agent only")
		return a.allow(logger, MethodFallbackUA)
	}

	logger.Warn().
		Bool("has_signature", signature != "").
		Bool("has_api_key", r.Header.Get(APIKeyHeader) != "").
		Str("user_agent", userAgent).
		Msg("unauthorized cron request")
	return Decision{}
}

func (a *Authenticator) allow(logger zerolog.Logger, m Method) Decision {
	logger.Info().Str("method", string(m)).Msg("cron request authorized")
	return Decision{Authorized: true, Method: m}
}

type signatureClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

func (a *Authenticator) verifySignature(r *http.Request, token string, body []byte) error {
	keys := []string{a.cfg.CurrentSigningKey, a.cfg.NextSigningKey}
	var errs []error
	for _, key := range keys {
		if key == "" {
			continue
		}
		err := a.verifyWithKey(r, token, key, body)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return errors.New("no signing keys configured")
	}
	return errors.Join(errs...)
}

func (a *Authenticator) verifyWithKey(r *http.Request, token, key string, body []byte) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
		jwt.WithLeeway(time.Second),
	}
	if a.cfg.BaseURL != "" {
		opts = append(opts, jwt.WithSubject(strings.TrimRight(a.cfg.BaseURL, "/")+r.URL.RequestURI()))
	}

	var claims signatureClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(body)
	want := strings.TrimRight(base64.URLEncoding.EncodeToString(sum[:]), "=")
	if strings.TrimRight(claims.Body, "=") != want {
		return fmt.Errorf("body hash mismatch")
	}
	return nil
}
