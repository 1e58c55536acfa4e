// Package session decodes and encodes the editor's opaque session blob.
//
// The blob is a protobuf-wire message. Fields this package models are mapped to
// typed structs; every other field is kept as raw wire bytes on the message it
// was found in and written back unchanged by Encode.
package session

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// OpaqueSlots lists the top-level byte fields that are carried but never interpreted.
var OpaqueSlots = []protowire.Number{5, 7, 9, 10, 11, 15, 16, 17, 18}

// Record is a decoded session blob.
type Record struct {
	Auth         *Auth
	Context      *Context
	Subscription *Plan // top-level copy; surfaced independently of Context.Plan
	Opaque       map[protowire.Number][]byte
	Unknown      []byte
}

// Auth carries authentication material.
type Auth struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	CreatedAt    *timestamppb.Timestamp
	IDToken      string
	Unknown      []byte
}

// Context carries the signed-in user's context.
type Context struct {
	Status   int32
	PlanName string
	Email    string
	Models   *Models
	Plan     *Plan
	Unknown  []byte
}

// Plan describes a subscription tier.
type Plan struct {
	TierID         string
	TierName       string
	DisplayName    string
	UpgradeURL     string
	UpgradeMessage string
	Unknown        []byte
}

// Models is the available-model catalog.
type Models struct {
	Items        []*Model
	Recommended  *Recommended
	DefaultModel *ModelSelector
	Unknown      []byte
}

// Model is one catalog entry.
type Model struct {
	Name           string
	ID             *ModelID
	SupportedTypes []*MimeType
	Tag            string
	Quota          *Quota
	Unknown        []byte
}

// ModelID wraps the numeric model identifier.
type ModelID struct {
	ID      int32
	Unknown []byte
}

// MimeType is a supported content type.
type MimeType struct {
	MimeType string
	Unknown  []byte
}

// Quota is the per-model remaining quota.
type Quota struct {
	RemainingFraction float64
	ResetTime         string
	Unknown           []byte
}

// Recommended points at the recommended model group.
type Recommended struct {
	Category string
	List     *NameList
	Unknown  []byte
}

// NameList is a list of model names.
type NameList struct {
	Names   []string
	Unknown []byte
}

// ModelSelector points at the default model.
type ModelSelector struct {
	Model   *ModelID
	Unknown []byte
}

// Email returns the context email, or "" when absent.
func (r *Record) Email() string {
	if r == nil || r.Context == nil {
		return ""
	}
	return r.Context.Email
}
