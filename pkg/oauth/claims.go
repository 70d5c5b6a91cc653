// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Standard resource owner claim names
const (
	ClaimSubject             = "sub"
	ClaimName                = "name"
	ClaimGivenName           = "given_name"
	ClaimFamilyName          = "family_name"
	ClaimMiddleName          = "middle_name"
	ClaimNickname            = "nickname"
	ClaimPreferredUsername   = "preferred_username"
	ClaimProfile             = "profile"
	ClaimPicture             = "picture"
	ClaimWebsite             = "website"
	ClaimEmail               = "email"
	ClaimEmailVerified       = "email_verified"
	ClaimGender              = "gender"
	ClaimBirthDate           = "birthdate"
	ClaimZoneInfo            = "zoneinfo"
	ClaimLocale              = "locale"
	ClaimPhoneNumber         = "phone_number"
	ClaimPhoneNumberVerified = "phone_number_verified"
	ClaimAddress             = "address"
	ClaimUpdatedAt           = "updated_at"
	ClaimRole                = "role"
)

// StandardResourceOwnerClaimNames are the claims describing the resource
// owner. Token reuse compares only these.
var StandardResourceOwnerClaimNames = []string{
	ClaimSubject, ClaimName, ClaimGivenName, ClaimFamilyName, ClaimMiddleName,
	ClaimNickname, ClaimPreferredUsername, ClaimProfile, ClaimPicture, ClaimWebsite,
	ClaimEmail, ClaimEmailVerified, ClaimGender, ClaimBirthDate, ClaimZoneInfo,
	ClaimLocale, ClaimPhoneNumber, ClaimPhoneNumberVerified, ClaimAddress,
	ClaimUpdatedAt, ClaimRole,
}

// scopeClaims maps the OpenID scopes to the claims they release.
var scopeClaims = map[string][]string{
	"profile": {
		ClaimName, ClaimFamilyName, ClaimGivenName, ClaimMiddleName, ClaimNickname,
		ClaimPreferredUsername, ClaimProfile, ClaimPicture, ClaimWebsite, ClaimGender,
		ClaimBirthDate, ClaimZoneInfo, ClaimLocale, ClaimUpdatedAt,
	},
	"email":   {ClaimEmail, ClaimEmailVerified},
	"address": {ClaimAddress},
	"phone":   {ClaimPhoneNumber, ClaimPhoneNumberVerified},
	"role":    {ClaimRole},
}

// ClaimsForScopes returns the claims released by the given scopes. The
// subject is always released.
func ClaimsForScopes(scopes []string) []string {
	out := []string{ClaimSubject}
	for _, s := range scopes {
		for _, c := range scopeClaims[s] {
			if !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	return out
}

// ClaimRequest is one entry of the claims parameter.
type ClaimRequest struct {
	Name      string
	Essential bool
	Value     string
	Values    []string
}

// ClaimsParameter is the OpenID claims request parameter.
type ClaimsParameter struct {
	UserInfo []ClaimRequest
	IDToken  []ClaimRequest
}

// Names returns the distinct claim names requested for either target.
func (c *ClaimsParameter) Names() []string {
	var out []string
	for _, list := range [][]ClaimRequest{c.UserInfo, c.IDToken} {
		for _, r := range list {
			if !slices.Contains(out, r.Name) {
				out = append(out, r.Name)
			}
		}
	}
	return out
}

// Empty reports whether no claim is requested.
func (c *ClaimsParameter) Empty() bool {
	return c == nil || (len(c.UserInfo) == 0 && len(c.IDToken) == 0)
}

type rawClaimRequest struct {
	Essential bool  `json:"essential"`
	Value     any   `json:"value"`
	Values    []any `json:"values"`
}

// ParseClaimsParameter decodes the JSON claims parameter.
func ParseClaimsParameter(raw string) (*ClaimsParameter, error) {
	if raw == "" {
		return nil, nil
	}
	var doc map[string]map[string]*rawClaimRequest
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("invalid claims parameter: %w", err)
	}
	return &ClaimsParameter{
		UserInfo: toClaimRequests(doc["userinfo"]),
		IDToken:  toClaimRequests(doc["id_token"]),
	}, nil
}

func toClaimRequests(entries map[string]*rawClaimRequest) []ClaimRequest {
	if len(entries) == 0 {
		return nil
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]ClaimRequest, 0, len(entries))
	for _, name := range names {
		r := ClaimRequest{Name: name}
		if e := entries[name]; e != nil {
			r.Essential = e.Essential
			if e.Value != nil {
				r.Value = fmt.Sprint(e.Value)
			}
			for _, v := range e.Values {
				r.Values = append(r.Values, fmt.Sprint(v))
			}
		}
		out = append(out, r)
	}
	return out
}
