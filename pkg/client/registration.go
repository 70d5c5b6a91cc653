// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
	coreoauth "github.com/stacklok/toolhive-core/oauth"

	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/jwks"
	"github.com/stacklok/idserver/pkg/oauth"
)

// Registration error codes per RFC 7591 Section 3.2.2
const (
	ErrorInvalidRedirectURI    = "invalid_redirect_uri"
	ErrorInvalidClientMetadata = "invalid_client_metadata"
)

// Limits applied to registration requests.
const (
	MaxRedirectURICount = 10
	MaxClientNameLength = 256
	secretBytes         = 32
)

// RegistrationRequest is the client metadata of a registration request.
type RegistrationRequest struct {
	RedirectURIs                 []string        `json:"redirect_uris"`
	ClientName                   string          `json:"client_name,omitempty"`
	TokenEndpointAuthMethod      string          `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes                   []string        `json:"grant_types,omitempty"`
	ResponseTypes                []string        `json:"response_types,omitempty"`
	Scope                        string          `json:"scope,omitempty"`
	RequirePKCE                  bool            `json:"require_pkce,omitempty"`
	ApplicationType              string          `json:"application_type,omitempty"`
	IDTokenSignedResponseAlg     string          `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg  string          `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc  string          `json:"id_token_encrypted_response_enc,omitempty"`
	UserInfoSignedResponseAlg    string          `json:"userinfo_signed_response_alg,omitempty"`
	UserInfoEncryptedResponseAlg string          `json:"userinfo_encrypted_response_alg,omitempty"`
	UserInfoEncryptedResponseEnc string          `json:"userinfo_encrypted_response_enc,omitempty"`
	JWKS                         json.RawMessage `json:"jwks,omitempty"`
	JWKSURI                      string          `json:"jwks_uri,omitempty"`
}

// RegistrationError is a registration failure per RFC 7591 Section 3.2.2.
type RegistrationError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Error implements error.
func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func metadataError(format string, args ...any) *RegistrationError {
	return &RegistrationError{Code: ErrorInvalidClientMetadata, Description: fmt.Sprintf(format, args...)}
}

// Registration is the outcome of a successful registration: the client and
// its plain secret, returned once to the caller.
type Registration struct {
	Client *Client
	Secret string
}

// Register validates req, applies defaults and builds the client.
// allowedScopes is the set of scopes the server offers.
func Register(req *RegistrationRequest, allowedScopes []string) (*Registration, error) {
	if err := validateRedirectURIs(req); err != nil {
		return nil, err
	}
	if len(req.ClientName) > MaxClientNameLength {
		return nil, metadataError("client_name too long (maximum %d characters)", MaxClientNameLength)
	}

	responseTypes, err := registrationResponseTypes(req.ResponseTypes)
	if err != nil {
		return nil, err
	}
	grantTypes, err := registrationGrantTypes(req.GrantTypes, responseTypes)
	if err != nil {
		return nil, err
	}
	if err := validateAlgorithms(req); err != nil {
		return nil, err
	}

	scopes := allowedScopes
	if req.Scope != "" {
		scopes = oauth.ParseScopes(req.Scope)
		for _, s := range scopes {
			if !slices.Contains(allowedScopes, s) {
				return nil, metadataError("scope %s is not supported", s)
			}
		}
	}

	authMethod := AuthMethod(req.TokenEndpointAuthMethod)
	if authMethod == "" {
		authMethod = AuthMethodSecretBasic
	}
	switch authMethod {
	case AuthMethodNone, AuthMethodSecretBasic, AuthMethodSecretPost:
	default:
		return nil, metadataError("unsupported token_endpoint_auth_method: %s", authMethod)
	}

	c := &Client{
		ID:                           uuid.NewString(),
		Name:                         req.ClientName,
		RedirectURIs:                 slices.Clone(req.RedirectURIs),
		AllowedScopes:                scopes,
		ResponseTypes:                responseTypes,
		GrantTypes:                   grantTypes,
		RequirePKCE:                  req.RequirePKCE || authMethod == AuthMethodNone,
		TokenEndpointAuthMethod:      authMethod,
		IDTokenSignedResponseAlg:     req.IDTokenSignedResponseAlg,
		IDTokenEncryptedResponseAlg:  req.IDTokenEncryptedResponseAlg,
		IDTokenEncryptedResponseEnc:  req.IDTokenEncryptedResponseEnc,
		UserInfoSignedResponseAlg:    req.UserInfoSignedResponseAlg,
		UserInfoEncryptedResponseAlg: req.UserInfoEncryptedResponseAlg,
		UserInfoEncryptedResponseEnc: req.UserInfoEncryptedResponseEnc,
	}
	if c.IDTokenSignedResponseAlg == "" {
		c.IDTokenSignedResponseAlg = string(jose.DefaultJwsAlg)
	}

	if len(req.JWKS) > 0 && req.JWKSURI != "" {
		return nil, metadataError("jwks and jwks_uri must not both be present")
	}
	if req.JWKSURI != "" {
		u, err := url.Parse(req.JWKSURI)
		if err != nil || u.Scheme != "https" || u.Host == "" || u.Fragment != "" {
			return nil, metadataError("jwks_uri must be an absolute https URL without fragment")
		}
		c.JWKSURI = req.JWKSURI
	}
	if len(req.JWKS) > 0 {
		keys, err := jwks.ParseSet(req.JWKS)
		if err != nil {
			return nil, metadataError("invalid jwks: %v", err)
		}
		c.JWKS = keys
	}

	reg := &Registration{Client: c}
	if authMethod != AuthMethodNone {
		secret, err := newSecret()
		if err != nil {
			return nil, err
		}
		if err := c.SetSecret(secret); err != nil {
			return nil, err
		}
		reg.Secret = secret
	}
	return reg, nil
}

func validateRedirectURIs(req *RegistrationRequest) *RegistrationError {
	if len(req.RedirectURIs) == 0 {
		return &RegistrationError{Code: ErrorInvalidRedirectURI, Description: "redirect_uris is required"}
	}
	if len(req.RedirectURIs) > MaxRedirectURICount {
		return &RegistrationError{
			Code:        ErrorInvalidRedirectURI,
			Description: fmt.Sprintf("too many redirect_uris (maximum %d)", MaxRedirectURICount),
		}
	}
	policy := coreoauth.RedirectURIPolicyStrict
	if req.ApplicationType == "native" {
		policy = coreoauth.RedirectURIPolicyAllowPrivateSchemes
	}
	for _, uri := range req.RedirectURIs {
		if strings.Contains(uri, "#") {
			return &RegistrationError{Code: ErrorInvalidRedirectURI, Description: "redirect_uri must not contain a fragment"}
		}
		if err := coreoauth.ValidateRedirectURI(uri, policy); err != nil {
			return &RegistrationError{Code: ErrorInvalidRedirectURI, Description: err.Error()}
		}
	}
	return nil
}

// registrationResponseTypes accepts the response type combinations of the
// authorization flows and flattens them into the allowed token classes.
func registrationResponseTypes(values []string) ([]oauth.ResponseType, *RegistrationError) {
	if len(values) == 0 {
		values = []string{string(oauth.ResponseTypeCode)}
	}
	var out []oauth.ResponseType
	for _, v := range values {
		for _, rt := range oauth.ParseResponseTypes(v) {
			switch rt {
			case oauth.ResponseTypeCode, oauth.ResponseTypeToken, oauth.ResponseTypeIDToken:
			default:
				return nil, metadataError("unsupported response_type: %s", rt)
			}
			if !slices.Contains(out, rt) {
				out = append(out, rt)
			}
		}
	}
	return out, nil
}

// registrationGrantTypes defaults the grant types and checks them against
// the response types as described by OpenID Connect Dynamic Client
// Registration section 2.
func registrationGrantTypes(values []string, responseTypes []oauth.ResponseType) ([]GrantType, *RegistrationError) {
	var grants []GrantType
	for _, v := range values {
		gt := GrantType(v)
		switch gt {
		case GrantAuthorizationCode, GrantImplicit, GrantRefreshToken, GrantUMATicket, GrantClientCredentials:
		default:
			return nil, metadataError("unsupported grant_type: %s", v)
		}
		grants = append(grants, gt)
	}
	if len(grants) == 0 {
		grants = []GrantType{GrantAuthorizationCode, GrantRefreshToken}
		if slices.Contains(responseTypes, oauth.ResponseTypeToken) || slices.Contains(responseTypes, oauth.ResponseTypeIDToken) {
			grants = append(grants, GrantImplicit)
		}
	}
	if slices.Contains(responseTypes, oauth.ResponseTypeCode) && !slices.Contains(grants, GrantAuthorizationCode) {
		return nil, metadataError("response_type code requires the authorization_code grant_type")
	}
	if (slices.Contains(responseTypes, oauth.ResponseTypeToken) || slices.Contains(responseTypes, oauth.ResponseTypeIDToken)) &&
		!slices.Contains(grants, GrantImplicit) {
		return nil, metadataError("response_type token and id_token require the implicit grant_type")
	}
	return grants, nil
}

func validateAlgorithms(req *RegistrationRequest) *RegistrationError {
	for name, value := range map[string]string{
		"id_token_signed_response_alg": req.IDTokenSignedResponseAlg,
		"userinfo_signed_response_alg": req.UserInfoSignedResponseAlg,
	} {
		if value == "" {
			continue
		}
		if _, ok := jose.ParseJwsAlg(value); !ok {
			return metadataError("%s %s is not supported", name, value)
		}
	}
	pairs := []struct {
		name     string
		alg, enc string
	}{
		{"id_token", req.IDTokenEncryptedResponseAlg, req.IDTokenEncryptedResponseEnc},
		{"userinfo", req.UserInfoEncryptedResponseAlg, req.UserInfoEncryptedResponseEnc},
	}
	for _, p := range pairs {
		if p.alg == "" {
			if p.enc != "" {
				return metadataError("%s_encrypted_response_enc requires %s_encrypted_response_alg", p.name, p.name)
			}
			continue
		}
		if _, ok := jose.ParseJweAlg(p.alg); !ok {
			return metadataError("%s_encrypted_response_alg %s is not supported", p.name, p.alg)
		}
		if p.enc != "" {
			if _, ok := jose.ParseJweEnc(p.enc); !ok {
				return metadataError("%s_encrypted_response_enc %s is not supported", p.name, p.enc)
			}
		}
	}
	return nil
}

// SetSecret replaces the client secret. Only its hash is kept unless the
// client needs the secret itself as an HMAC or key wrapping key.
func (c *Client) SetSecret(secret string) error {
	hash, err := HashSecret(secret)
	if err != nil {
		return fmt.Errorf("failed to hash client secret: %w", err)
	}
	c.SecretHash = hash
	c.Secret = ""
	if needsPlainSecret(c) {
		c.Secret = secret
	}
	return nil
}

func needsPlainSecret(c *Client) bool {
	if alg, ok := jose.ParseJwsAlg(c.IDTokenSignedResponseAlg); ok && alg.Symmetric() {
		return true
	}
	for _, a := range []string{c.IDTokenEncryptedResponseAlg, c.UserInfoEncryptedResponseAlg} {
		if alg, ok := jose.ParseJweAlg(a); ok && isKeyWrap(alg) {
			return true
		}
	}
	return false
}

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate client secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
