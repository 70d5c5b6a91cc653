// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package discovery builds the OpenID Provider metadata of the server,
// extended with the UMA 2.0 authorization server fields.
package discovery

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stacklok/idserver/pkg/client"
	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/jwks"
	"github.com/stacklok/idserver/pkg/oauth"
	"github.com/stacklok/idserver/pkg/uma"
)

// Endpoint paths relative to the issuer.
const (
	WellKnownPath        = "/.well-known/openid-configuration"
	UMAWellKnownPath     = "/.well-known/uma2-configuration"
	AuthorizationPath    = "/authorization"
	TokenPath            = "/token"
	RevocationPath       = "/token/revoke"
	UserInfoPath         = "/userinfo"
	JWKSPath             = "/jwks"
	RegistrationPath     = "/registration"
	PermissionPath       = "/permissions"
	RptIntrospectionPath = "/rpt/introspect"
)

// SubjectTypePublic gives every client the same subject for a user.
const SubjectTypePublic = "public"

// UMAProfileTokenBearer is the RPT profile of the issued tokens.
const UMAProfileTokenBearer = "https://docs.kantarainitiative.org/uma/profiles/uma-token-bearer-1.0"

// ErrInvalidMetadata wraps every metadata validation failure.
var ErrInvalidMetadata = errors.New("invalid provider metadata")

// Metadata is the OpenID Provider metadata document.
type Metadata struct {
	Issuer                               string   `json:"issuer" validate:"required,url"`
	AuthorizationEndpoint                string   `json:"authorization_endpoint" validate:"required,url"`
	TokenEndpoint                        string   `json:"token_endpoint" validate:"required,url"`
	UserInfoEndpoint                     string   `json:"userinfo_endpoint,omitempty" validate:"omitempty,url"`
	JWKSURI                              string   `json:"jwks_uri" validate:"required,url"`
	RegistrationEndpoint                 string   `json:"registration_endpoint,omitempty" validate:"omitempty,url"`
	RevocationEndpoint                   string   `json:"revocation_endpoint,omitempty" validate:"omitempty,url"`
	ScopesSupported                      []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported               []string `json:"response_types_supported" validate:"required,min=1"`
	ResponseModesSupported               []string `json:"response_modes_supported,omitempty"`
	GrantTypesSupported                  []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported                []string `json:"subject_types_supported" validate:"required,min=1"`
	IDTokenSigningAlgValuesSupported     []string `json:"id_token_signing_alg_values_supported" validate:"required,min=1"`
	IDTokenEncryptionAlgValuesSupported  []string `json:"id_token_encryption_alg_values_supported,omitempty"`
	IDTokenEncryptionEncValuesSupported  []string `json:"id_token_encryption_enc_values_supported,omitempty"`
	UserInfoSigningAlgValuesSupported    []string `json:"userinfo_signing_alg_values_supported,omitempty"`
	UserInfoEncryptionAlgValuesSupported []string `json:"userinfo_encryption_alg_values_supported,omitempty"`
	UserInfoEncryptionEncValuesSupported []string `json:"userinfo_encryption_enc_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported    []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ClaimsSupported                      []string `json:"claims_supported,omitempty"`
	ClaimsParameterSupported             bool     `json:"claims_parameter_supported"`
	RequestParameterSupported            bool     `json:"request_parameter_supported"`
	CodeChallengeMethodsSupported        []string `json:"code_challenge_methods_supported,omitempty"`
	PermissionEndpoint                   string   `json:"permission_endpoint,omitempty" validate:"omitempty,url"`
	IntrospectionEndpoint                string   `json:"introspection_endpoint,omitempty" validate:"omitempty,url"`
	UMAProfilesSupported                 []string `json:"uma_profiles_supported,omitempty"`
	ClaimTokenProfilesSupported          []string `json:"claim_token_profiles_supported,omitempty"`
}

// Build creates the metadata of the server identified by issuer. The ID
// token signing algorithms are taken from the signing keys.
func Build(issuer string, scopes []string, keys []*jwks.Key) *Metadata {
	issuer = strings.TrimSuffix(issuer, "/")

	signingAlgs := signingAlgorithms(keys)
	encryptionAlgs := []string{string(jose.RSA15), string(jose.RSAOAEP), string(jose.RSAOAEP256),
		string(jose.A128KW), string(jose.A192KW), string(jose.A256KW)}
	encryptionEncs := []string{string(jose.A128CBCHS256), string(jose.A192CBCHS384), string(jose.A256CBCHS512)}

	return &Metadata{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + AuthorizationPath,
		TokenEndpoint:         issuer + TokenPath,
		UserInfoEndpoint:      issuer + UserInfoPath,
		JWKSURI:               issuer + JWKSPath,
		RegistrationEndpoint:  issuer + RegistrationPath,
		RevocationEndpoint:    issuer + RevocationPath,
		ScopesSupported:       slices.Clone(scopes),
		ResponseTypesSupported: []string{
			"code", "id_token", "id_token token", "code id_token", "code token", "code id_token token",
		},
		ResponseModesSupported: []string{
			string(oauth.ResponseModeQuery), string(oauth.ResponseModeFragment), string(oauth.ResponseModeFormPost),
		},
		GrantTypesSupported: []string{
			string(client.GrantAuthorizationCode), string(client.GrantImplicit),
			string(client.GrantRefreshToken), string(client.GrantUMATicket),
		},
		SubjectTypesSupported:                []string{SubjectTypePublic},
		IDTokenSigningAlgValuesSupported:     signingAlgs,
		IDTokenEncryptionAlgValuesSupported:  encryptionAlgs,
		IDTokenEncryptionEncValuesSupported:  encryptionEncs,
		UserInfoSigningAlgValuesSupported:    signingAlgs,
		UserInfoEncryptionAlgValuesSupported: encryptionAlgs,
		UserInfoEncryptionEncValuesSupported: encryptionEncs,
		TokenEndpointAuthMethodsSupported: []string{
			string(client.AuthMethodSecretBasic), string(client.AuthMethodSecretPost), string(client.AuthMethodNone),
		},
		ClaimsSupported:               oauth.ClaimsForScopes(scopes),
		ClaimsParameterSupported:      true,
		CodeChallengeMethodsSupported: []string{string(oauth.CodeChallengeS256), string(oauth.CodeChallengePlain)},
		PermissionEndpoint:            issuer + PermissionPath,
		IntrospectionEndpoint:         issuer + RptIntrospectionPath,
		UMAProfilesSupported:          []string{UMAProfileTokenBearer},
		ClaimTokenProfilesSupported:   []string{uma.ClaimTokenFormatIDToken},
	}
}

// signingAlgorithms collects the distinct algorithms of the signing keys,
// falling back to RS256 which every provider must support.
func signingAlgorithms(keys []*jwks.Key) []string {
	var algs []string
	for _, k := range jwks.FilterByUse(keys, jwks.UsageSignature) {
		if k.Alg != "" && !slices.Contains(algs, k.Alg) {
			algs = append(algs, k.Alg)
		}
	}
	if !slices.Contains(algs, string(jose.RS256)) {
		algs = append(algs, string(jose.RS256))
	}
	return algs
}

// Validate checks that the document carries the fields required by
// OpenID Connect Discovery section 3.
func (m *Metadata) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(jsonTagName)
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return fmt.Errorf("%w: %s", ErrInvalidMetadata, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if !slices.Contains(m.IDTokenSigningAlgValuesSupported, string(jose.RS256)) {
		return fmt.Errorf("%w: id_token_signing_alg_values_supported must include RS256", ErrInvalidMetadata)
	}
	return nil
}

func jsonTagName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	return name
}
