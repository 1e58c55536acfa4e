package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/and161185/agent-keeper/internal/errs"
)

var errMalformed = errors.New("malformed field")

// Decode parses a base64 session blob.
func Decode(b64 string) (*Record, error) {
	s := strings.TrimSpace(b64)
	if s == "" {
		return nil, errs.ErrEmptyInput
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w (len=%d): %v", errs.ErrTransportDecode, len(b64), err)
	}
	rec, err := DecodeBytes(raw)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DecodeBytes parses the raw wire bytes of a session blob.
func DecodeBytes(raw []byte) (*Record, error) {
	rec := &Record{}
	unknown, err := walk(raw, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch num {
		case 1:
			return decodeMsg(typ, val, func(b []byte) error {
				a, err := decodeAuth(b)
				rec.Auth = a
				return err
			})
		case 2:
			return decodeMsg(typ, val, func(b []byte) error {
				c, err := decodeContext(b)
				rec.Context = c
				return err
			})
		case 3:
			return decodeMsg(typ, val, func(b []byte) error {
				p, err := decodePlan(b)
				rec.Subscription = p
				return err
			})
		}
		if isOpaqueSlot(num) && typ == protowire.BytesType {
			if _, dup := rec.Opaque[num]; dup {
				return false, nil
			}
			v, _ := protowire.ConsumeBytes(val)
			if rec.Opaque == nil {
				rec.Opaque = make(map[protowire.Number][]byte)
			}
			rec.Opaque[num] = append([]byte{}, v...)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w (len=%d): %v", errs.ErrSchemaDecode, len(raw), err)
	}
	rec.Unknown = unknown
	return rec, nil
}

// walk iterates over the fields of one message. visit reports whether it
// consumed a field; unconsumed fields are returned verbatim, tag included.
func walk(b []byte, visit func(num protowire.Number, typ protowire.Type, val []byte) (bool, error)) ([]byte, error) {
	var unknown []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		handled, err := visit(num, typ, b[n:n+m])
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", num, err)
		}
		if !handled {
			unknown = append(unknown, b[:n+m]...)
		}
		b = b[n+m:]
	}
	return unknown, nil
}

func decodeMsg(typ protowire.Type, val []byte, fn func([]byte) error) (bool, error) {
	if typ != protowire.BytesType {
		return false, nil
	}
	v, n := protowire.ConsumeBytes(val)
	if n < 0 {
		return false, errMalformed
	}
	return true, fn(v)
}

func decodeString(typ protowire.Type, val []byte, dst *string) (bool, error) {
	if typ != protowire.BytesType {
		return false, nil
	}
	v, n := protowire.ConsumeBytes(val)
	if n < 0 {
		return false, errMalformed
	}
	*dst = string(v)
	return true, nil
}

func decodeInt32(typ protowire.Type, val []byte, dst *int32) (bool, error) {
	if typ != protowire.VarintType {
		return false, nil
	}
	v, n := protowire.ConsumeVarint(val)
	if n < 0 {
		return false, errMalformed
	}
	*dst = int32(v)
	return true, nil
}

func decodeAuth(b []byte) (*Auth, error) {
	a := &Auth{}
	unknown, err := walk(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch num {
		case 1:
			return decodeString(typ, val, &a.AccessToken)
		case 2:
			return decodeString(typ, val, &a.TokenType)
		case 3:
			return decodeString(typ, val, &a.RefreshToken)
		case 4:
			return decodeMsg(typ, val, func(v []byte) error {
				ts := &timestamppb.Timestamp{}
				if err := proto.Unmarshal(v, ts); err != nil {
					return err
				}
				a.CreatedAt = ts
				return nil
			})
		case 5:
			return decodeString(typ, val, &a.IDToken)
		}
		return false, nil
	})
	a.Unknown = unknown
	return a, err
}

func decodeContext(b []byte) (*Context, error) {
	c := &Context{}
	unknown, err := walk(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch num {
		case 1:
			return decodeInt32(typ, val, &c.Status)
		case 2:
			return decodeString(typ, val, &c.PlanName)
		case 3:
			return decodeString(typ, val, &c.Email)
		case 4:
			return decodeMsg(typ, val, func(v []byte) error {
				m, err := decodeModels(v)
				c.Models = m
				return err
			})
		case 5:
			return decodeMsg(typ, val, func(v []byte) error {
				p, err := decodePlan(v)
				c.Plan = p
				return err
			})
		}
		return false, nil
	})
	c.Unknown = unknown
	return c, err
}

func decodePlan(b []byte) (*Plan, error) {
	p := &Plan{}
	unknown, err := walk(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch num {
		case 1:
			return decodeString(typ, val, &p.TierID)
		case 2:
			return decodeString(typ, val, &p.TierName)
		case 3:
			return decodeString(typ, val, &p.DisplayName)
		case 4:
			return decodeString(typ, val, &p.UpgradeURL)
		case 5:
			return decodeString(typ, val, &p.UpgradeMessage)
		}
		return false, nil
	})
	p.Unknown = unknown
	return p, err
}

func decodeModels(b []byte) (*Models, error) {
	m := &Models{}
	unknown, err := walk(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch num {
		case 1:
			return decodeMsg(typ, val, func(v []byte) error {
				item, err := decodeModel(v)
				m.Items = append(m.Items, item)
				return err
			})
		case 2:
			return decodeMsg(typ, val, func(v []byte) error {
				r, err := decodeRecommended(v)
				m.Recommended = r
				return err
			})
		case 3:
			return decodeMsg(typ, val, func(v []byte) error {
				s, err := decodeSelector(v)
				m.DefaultModel = s
				return err
			})
		}
		return false, nil
	})
	m.Unknown = unknown
	return m, err
}

func decodeModel(b []byte) (*Model, error) {
	m := &Model{}
	unknown, err := walk(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch num {
		case 1:
			return decodeString(typ, val, &m.Name)
		case 2:
			return decodeMsg(typ, val, func(v []byte) error {
				id, err := decodeModelID(v)
				m.ID = id
				return err
			})
		case 3:
			return decodeMsg(typ, val, func(v []byte) error {
				mt := &MimeType{}
				u, err := walk(v, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
					if num == 1 {
						return decodeString(typ, val, &mt.MimeType)
					}
					return false, nil
				})
				mt.Unknown = u
				m.SupportedTypes = append(m.SupportedTypes, mt)
				return err
			})
		case 4:
			return decodeString(typ, val, &m.Tag)
		case 6:
			return decodeMsg(typ, val, func(v []byte) error {
				q, err := decodeQuota(v)
				m.Quota = q
				return err
			})
		}
		return false, nil
	})
	m.Unknown = unknown
	return m, err
}

func decodeModelID(b []byte) (*ModelID, error) {
	id := &ModelID{}
	unknown, err := walk(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		if num == 1 {
			return decodeInt32(typ, val, &id.ID)
		}
		return false, nil
	})
	id.Unknown = unknown
	return id, err
}

func decodeQuota(b []byte) (*Quota, error) {
	q := &Quota{}
	unknown, err := walk(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch num {
		case 1:
			if typ != protowire.Fixed64Type {
				return false, nil
			}
			v, n := protowire.ConsumeFixed64(val)
			if n < 0 {
				return false, errMalformed
			}
			q.RemainingFraction = math.Float64frombits(v)
			return true, nil
		case 2:
			return decodeString(typ, val, &q.ResetTime)
		}
		return false, nil
	})
	q.Unknown = unknown
	return q, err
}

func decodeRecommended(b []byte) (*Recommended, error) {
	r := &Recommended{}
	unknown, err := walk(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch num {
		case 1:
			return decodeString(typ, val, &r.Category)
		case 2:
			return decodeMsg(typ, val, func(v []byte) error {
				l := &NameList{}
				u, err := walk(v, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
					if num != 1 {
						return false, nil
					}
					var s string
					ok, err := decodeString(typ, val, &s)
					if ok {
						l.Names = append(l.Names, s)
					}
					return ok, err
				})
				l.Unknown = u
				r.List = l
				return err
			})
		}
		return false, nil
	})
	r.Unknown = unknown
	return r, err
}

func decodeSelector(b []byte) (*ModelSelector, error) {
	s := &ModelSelector{}
	unknown, err := walk(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		if num == 1 {
			return decodeMsg(typ, val, func(v []byte) error {
				id, err := decodeModelID(v)
				s.Model = id
				return err
			})
		}
		return false, nil
	})
	s.Unknown = unknown
	return s, err
}

func isOpaqueSlot(num protowire.Number) bool {
	for _, s := range OpaqueSlots {
		if s == num {
			return true
		}
	}
	return false
}
