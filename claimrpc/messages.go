package claimrpc

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"xdao.co/claimstore/canonical"
	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/model"
)

// Struct field names used by the Claims service.
const (
	fieldOwnerRef          = "ownerRef"
	fieldSignature         = "signature"
	fieldData              = "data"
	fieldAllow             = "allow"
	fieldClaimID           = "claimId"
	fieldImporterRef       = "importerRef"
	fieldAccessorRef       = "accessorRef"
	fieldAccessorSignature = "accessorSignature"
	fieldFound             = "found"
	fieldPrevious          = "previous"
	fieldRef               = "ref"
	fieldCertificate       = "certificate"
	fieldNonce             = "nonce"
	fieldScope             = "scope"
	fieldPredicate         = "predicate"
)

// toValue converts claim data to a structpb value. Data is normalized
// first, so whatever the caller passed crosses the wire as plain JSON.
func toValue(v any) (*structpb.Value, error) {
	norm, err := canonical.Normalize(v)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidRequest, "claim data is not canonicalizable", err)
	}
	pv, err := structpb.NewValue(norm)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidRequest, "claim data", err)
	}
	return pv, nil
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidRequest, "encode request", err)
	}
	return s, nil
}

func stringField(s *structpb.Struct, name string) (string, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return "", nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return "", nil
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	default:
		return "", model.Errorf(model.KindInvalidRequest, "field %q must be a string", name)
	}
}

func requiredString(s *structpb.Struct, name string) (string, error) {
	v, err := stringField(s, name)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", model.Errorf(model.KindInvalidRequest, "missing field %q", name)
	}
	return v, nil
}

// anyField returns the JSON value of a field; a missing field is nil.
func anyField(s *structpb.Struct, name string) any {
	v, ok := s.GetFields()[name]
	if !ok {
		return nil
	}
	return v.AsInterface()
}

func encodeGrant(g *claimstore.AccessGrant) any {
	if g == nil {
		return nil
	}
	m := map[string]any{}
	if g.Scope != "" {
		m[fieldScope] = g.Scope
	}
	if g.DID != "" {
		m["did"] = g.DID
	}
	return m
}

func decodeGrant(s *structpb.Struct) (*claimstore.AccessGrant, error) {
	v, ok := s.GetFields()[fieldAllow]
	if !ok {
		return nil, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_StructValue:
		scope, err := stringField(k.StructValue, fieldScope)
		if err != nil {
			return nil, err
		}
		did, err := stringField(k.StructValue, "did")
		if err != nil {
			return nil, err
		}
		return &claimstore.AccessGrant{Scope: scope, DID: did}, nil
	default:
		return nil, model.Errorf(model.KindInvalidRequest, "field %q must be an object", fieldAllow)
	}
}

func decodePredicate(s *structpb.Struct) (map[string]any, error) {
	v, ok := s.GetFields()[fieldPredicate]
	if !ok {
		return nil, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_StructValue:
		return k.StructValue.AsMap(), nil
	default:
		return nil, model.Errorf(model.KindInvalidRequest, "field %q must be an object", fieldPredicate)
	}
}

func encodeView(v *model.ClaimView) (*structpb.Struct, error) {
	if v == nil {
		return newStruct(map[string]any{fieldFound: false})
	}
	data, err := toValue(v.Data)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldFound:    structpb.NewBoolValue(true),
		fieldData:     data,
		fieldPrevious: structpb.NewNullValue(),
	}}
	if v.Previous != "" {
		out.Fields[fieldPrevious] = structpb.NewStringValue(v.Previous)
	}
	return out, nil
}

func decodeView(s *structpb.Struct) (*model.ClaimView, error) {
	found := s.GetFields()[fieldFound]
	if found == nil || !found.GetBoolValue() {
		return nil, nil
	}
	prev, err := stringField(s, fieldPrevious)
	if err != nil {
		return nil, fmt.Errorf("claimrpc: decode claim: %w", err)
	}
	return &model.ClaimView{Data: anyField(s, fieldData), Previous: prev}, nil
}
