// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package uma

import (
	"errors"
	"fmt"
	"math"
	"sync"

	cedar "github.com/cedar-policy/cedar-go"
	celgo "github.com/google/cel-go/cel"
	"github.com/stacklok/toolhive-core/cel"

	"github.com/stacklok/idserver/pkg/jose"
)

// Cedar entity types of a script request.
const (
	CedarPrincipalType = "Client"
	CedarActionType    = "Scope"
	CedarResourceType  = "ResourceSet"
)

// ErrUnsupportedScript is returned for a script in an unknown language.
var ErrUnsupportedScript = errors.New("unsupported script language")

// scriptEngine compiles policy scripts once and evaluates them.
type scriptEngine struct {
	cel *cel.Engine

	// compiled maps language + source to *cel.CompiledExpression or
	// *cedar.PolicySet
	compiled sync.Map
}

func newScriptEngine() *scriptEngine {
	return &scriptEngine{
		cel: cel.NewEngine(
			celgo.Variable("claims", celgo.MapType(celgo.StringType, celgo.DynType)),
			celgo.Variable("client_id", celgo.StringType),
			celgo.Variable("resource_set_id", celgo.StringType),
			celgo.Variable("scopes", celgo.ListType(celgo.StringType)),
		),
	}
}

// Validate compiles the script, reporting syntax and type errors.
func (s *scriptEngine) Validate(script *Script) error {
	_, err := s.compile(script)
	return err
}

func (s *scriptEngine) compile(script *Script) (any, error) {
	key := string(script.Language) + "\x00" + script.Source
	if v, ok := s.compiled.Load(key); ok {
		return v, nil
	}

	var (
		compiled any
		err      error
	)
	switch script.Language {
	case ScriptCEL:
		compiled, err = s.cel.Compile(script.Source)
	case ScriptCedar:
		compiled, err = cedar.NewPolicySetFromBytes("policy.cedar", []byte(script.Source))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScript, script.Language)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s script: %w", script.Language, err)
	}
	v, _ := s.compiled.LoadOrStore(key, compiled)
	return v, nil
}

// evaluate runs the script for the current ticket line.
func (s *scriptEngine) evaluate(script *Script, e *evaluation, claims jose.Payload) (bool, error) {
	compiled, err := s.compile(script)
	if err != nil {
		return false, err
	}
	if claims == nil {
		claims = jose.Payload{}
	}

	switch c := compiled.(type) {
	case *cel.CompiledExpression:
		return c.EvaluateBool(map[string]any{
			"claims":          map[string]any(claims),
			"client_id":       e.ticket.ClientID,
			"resource_set_id": e.line.ResourceSetID,
			"scopes":          e.line.Scopes,
		})
	case *cedar.PolicySet:
		return authorizeCedar(c, e, claims)
	default:
		return false, fmt.Errorf("%w: %T", ErrUnsupportedScript, compiled)
	}
}

// authorizeCedar allows the line when every requested scope is allowed.
func authorizeCedar(ps *cedar.PolicySet, e *evaluation, claims jose.Payload) (bool, error) {
	record := claimsRecord(claims)
	for _, scope := range e.line.Scopes {
		req := cedar.Request{
			Principal: cedar.NewEntityUID(CedarPrincipalType, cedar.String(e.ticket.ClientID)),
			Action:    cedar.NewEntityUID(CedarActionType, cedar.String(scope)),
			Resource:  cedar.NewEntityUID(CedarResourceType, cedar.String(e.line.ResourceSetID)),
			Context:   record,
		}
		decision, diagnostic := cedar.Authorize(ps, cedar.EntityMap{}, req)
		if len(diagnostic.Errors) > 0 {
			return false, fmt.Errorf("cedar evaluation error: %v", diagnostic.Errors)
		}
		if decision != cedar.Allow {
			return false, nil
		}
	}
	return true, nil
}

// claimsRecord converts token claims to a Cedar record. Claims of
// unsupported types are left out.
func claimsRecord(claims jose.Payload) cedar.Record {
	m := make(cedar.RecordMap, len(claims))
	for k, v := range claims {
		if value := cedarValue(v); value != nil {
			m[cedar.String(k)] = value
		}
	}
	return cedar.NewRecord(m)
}

func cedarValue(v any) cedar.Value {
	switch val := v.(type) {
	case string:
		return cedar.String(val)
	case bool:
		if val {
			return cedar.True
		}
		return cedar.False
	case int:
		return cedar.Long(val)
	case int64:
		return cedar.Long(val)
	case float64:
		// JSON numbers: integral values such as exp or iat become longs
		if val == math.Trunc(val) && math.Abs(val) < math.MaxInt64 {
			return cedar.Long(int64(val))
		}
		d, err := cedar.NewDecimalFromFloat(val)
		if err != nil {
			return nil
		}
		return d
	case []string:
		values := make([]cedar.Value, 0, len(val))
		for _, item := range val {
			values = append(values, cedar.String(item))
		}
		return cedar.NewSet(values...)
	case []any:
		values := make([]cedar.Value, 0, len(val))
		for _, item := range val {
			if value := cedarValue(item); value != nil {
				values = append(values, value)
			}
		}
		return cedar.NewSet(values...)
	case map[string]any:
		return claimsRecord(val)
	default:
		return nil
	}
}
