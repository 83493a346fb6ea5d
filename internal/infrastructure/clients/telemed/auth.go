package telemed

import (
	"encoding/base64"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
)

// DefaultAPIKeyHeader is used for api_key providers that do not name a header
const DefaultAPIKeyHeader = "X-Api-Key"

// Authenticator decorates outbound requests with partner credentials
type Authenticator interface {
	Apply(req *http.Request)
	Scheme() string
}

type headerAuth struct {
	scheme string
	header string
	value  string
}

func (a headerAuth) Apply(req *http.Request) { req.Header.Set(a.header, a.value) }
func (a headerAuth) Scheme() string          { return a.scheme }

type noAuth struct{}

func (noAuth) Apply(*http.Request) {}
func (noAuth) Scheme() string      { return "none" }

// NewAuthenticator builds the authenticator declared by the provider.
// An unsupported scheme or missing credential is a configuration problem:
// it is logged and requests go out unauthenticated.
func NewAuthenticator(providerID string, authType entities.AuthType, creds map[string]string) Authenticator {
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := creds[k]; v != "" {
				return v
			}
		}
		return ""
	}

	switch authType {
	case entities.AuthTypeAPIKey:
		key := first("api_key", "apiKey", "key")
		if key == "" {
			break
		}
		header := first("header", "header_name")
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		return headerAuth{scheme: string(authType), header: header, value: key}

	case entities.AuthTypeBearer, entities.AuthTypeOAuth:
		token := first("token", "access_token", "accessToken")
		if token == "" {
			break
		}
		return headerAuth{scheme: string(authType), header: "Authorization", value: "Bearer " + token}

	case entities.AuthTypeBasic:
		user, pass := first("username", "user"), first("password")
		if user == "" {
			break
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		return headerAuth{scheme: string(authType), header: "Authorization", value: "Basic " + encoded}

	default:
		log.Warn().
			Str("provider_id", providerID).
			Str("auth_type", string(authType)).
			Msg("Unsupported partner auth scheme, requests will be unauthenticated")
		return noAuth{}
	}

	log.Warn().
		Str("provider_id", providerID).
		Str("auth_type", string(authType)).
		Msg("Partner credentials missing, requests will be unauthenticated")
	return noAuth{}
}
