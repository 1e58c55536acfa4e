package session

import (
	"encoding/base64"
	"math"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// Encode serializes r back to wire bytes. Known fields are written in
// ascending tag order, followed by the opaque slots and the unknown bytes.
func Encode(r *Record) []byte {
	if r == nil {
		return nil
	}
	var b []byte
	b = appendMsg(b, 1, r.Auth != nil, func(b []byte) []byte { return encodeAuth(b, r.Auth) })
	b = appendMsg(b, 2, r.Context != nil, func(b []byte) []byte { return encodeContext(b, r.Context) })
	b = appendMsg(b, 3, r.Subscription != nil, func(b []byte) []byte { return encodePlan(b, r.Subscription) })

	nums := make([]protowire.Number, 0, len(r.Opaque))
	for n := range r.Opaque {
		nums = append(nums, n)
	}
	slices.Sort(nums)
	for _, n := range nums {
		b = protowire.AppendTag(b, n, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Opaque[n])
	}
	return append(b, r.Unknown...)
}

// EncodeString returns Encode(r) as standard base64.
func EncodeString(r *Record) string {
	return base64.StdEncoding.EncodeToString(Encode(r))
}

func appendMsg(b []byte, num protowire.Number, present bool, body func([]byte) []byte) []byte {
	if !present {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body(nil))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func encodeAuth(b []byte, a *Auth) []byte {
	b = appendString(b, 1, a.AccessToken)
	b = appendString(b, 2, a.TokenType)
	b = appendString(b, 3, a.RefreshToken)
	if a.CreatedAt != nil {
		ts, err := proto.MarshalOptions{Deterministic: true}.Marshal(a.CreatedAt)
		if err == nil {
			b = protowire.AppendTag(b, 4, protowire.BytesType)
			b = protowire.AppendBytes(b, ts)
		}
	}
	b = appendString(b, 5, a.IDToken)
	return append(b, a.Unknown...)
}

func encodeContext(b []byte, c *Context) []byte {
	b = appendInt32(b, 1, c.Status)
	b = appendString(b, 2, c.PlanName)
	b = appendString(b, 3, c.Email)
	b = appendMsg(b, 4, c.Models != nil, func(b []byte) []byte { return encodeModels(b, c.Models) })
	b = appendMsg(b, 5, c.Plan != nil, func(b []byte) []byte { return encodePlan(b, c.Plan) })
	return append(b, c.Unknown...)
}

func encodePlan(b []byte, p *Plan) []byte {
	b = appendString(b, 1, p.TierID)
	b = appendString(b, 2, p.TierName)
	b = appendString(b, 3, p.DisplayName)
	b = appendString(b, 4, p.UpgradeURL)
	b = appendString(b, 5, p.UpgradeMessage)
	return append(b, p.Unknown...)
}

func encodeModels(b []byte, m *Models) []byte {
	for _, item := range m.Items {
		b = appendMsg(b, 1, item != nil, func(b []byte) []byte { return encodeModel(b, item) })
	}
	b = appendMsg(b, 2, m.Recommended != nil, func(b []byte) []byte {
		r := m.Recommended
		b = appendString(b, 1, r.Category)
		b = appendMsg(b, 2, r.List != nil, func(b []byte) []byte {
			for _, n := range r.List.Names {
				b = protowire.AppendTag(b, 1, protowire.BytesType)
				b = protowire.AppendString(b, n)
			}
			return append(b, r.List.Unknown...)
		})
		return append(b, r.Unknown...)
	})
	b = appendMsg(b, 3, m.DefaultModel != nil, func(b []byte) []byte {
		s := m.DefaultModel
		b = appendMsg(b, 1, s.Model != nil, func(b []byte) []byte { return encodeModelID(b, s.Model) })
		return append(b, s.Unknown...)
	})
	return append(b, m.Unknown...)
}

func encodeModel(b []byte, m *Model) []byte {
	b = appendString(b, 1, m.Name)
	b = appendMsg(b, 2, m.ID != nil, func(b []byte) []byte { return encodeModelID(b, m.ID) })
	for _, mt := range m.SupportedTypes {
		b = appendMsg(b, 3, mt != nil, func(b []byte) []byte {
			b = appendString(b, 1, mt.MimeType)
			return append(b, mt.Unknown...)
		})
	}
	b = appendString(b, 4, m.Tag)
	b = appendMsg(b, 6, m.Quota != nil, func(b []byte) []byte {
		q := m.Quota
		if q.RemainingFraction != 0 {
			b = protowire.AppendTag(b, 1, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, math.Float64bits(q.RemainingFraction))
		}
		b = appendString(b, 2, q.ResetTime)
		return append(b, q.Unknown...)
	})
	return append(b, m.Unknown...)
}

func encodeModelID(b []byte, id *ModelID) []byte {
	b = appendInt32(b, 1, id.ID)
	return append(b, id.Unknown...)
}
