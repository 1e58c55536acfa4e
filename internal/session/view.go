package session

import (
	"encoding/base64"

	"google.golang.org/protobuf/encoding/protowire"
)

// View is the JSON surface of a Record shown to callers.
type View struct {
	Auth         *AuthView    `json:"auth"`
	Context      *ContextView `json:"context"`
	Subscription *PlanView    `json:"subscription"`

	Field5  *string `json:"field_5_base64,omitempty"`
	Field7  *string `json:"field_7_base64,omitempty"`
	Field9  *string `json:"field_9_base64,omitempty"`
	Field10 *string `json:"field_10_base64,omitempty"`
	Field11 *string `json:"field_11_base64,omitempty"`
	Field15 *string `json:"field_15_base64,omitempty"`
	Field16 *string `json:"field_16_base64,omitempty"`
	Field17 *string `json:"field_17_base64,omitempty"`
	Field18 *string `json:"f18_base64,omitempty"`
}

type AuthView struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	CreatedAt    *int64 `json:"created_at"`
	IDToken      string `json:"id_token"`
}

type ContextView struct {
	Status   int32       `json:"status"`
	PlanName string      `json:"plan_name"`
	Email    string      `json:"email"`
	Models   *ModelsView `json:"models"`
	Plan     *PlanView   `json:"plan"`
}

type PlanView struct {
	TierID         string `json:"tier_id"`
	TierName       string `json:"tier_name"`
	DisplayName    string `json:"display_name"`
	UpgradeURL     string `json:"upgrade_url"`
	UpgradeMessage string `json:"upgrade_message"`
}

type ModelsView struct {
	Items        []ModelView      `json:"items"`
	Recommended  *RecommendedView `json:"recommended"`
	DefaultModel *int32           `json:"default_model"`
}

type ModelView struct {
	Name           string     `json:"name"`
	ID             *int32     `json:"id"`
	Tag            string     `json:"tag"`
	SupportedTypes []string   `json:"supported_types"`
	Quota          *QuotaView `json:"quota,omitempty"`

	// Field5 and Field11 are unnamed item fields: a number for scalar wire
	// types, base64 for length-delimited ones, null when absent.
	Field5  any `json:"field_5"`
	Field11 any `json:"field_11"`
}

type QuotaView struct {
	RemainingFraction float64 `json:"remaining_fraction"`
	ResetTime         string  `json:"reset_time"`
}

type RecommendedView struct {
	Category   string   `json:"category"`
	ModelNames []string `json:"model_names"`
}

// View renders r for display. Opaque slots appear only when non-empty.
func (r *Record) View() View {
	var v View
	if r == nil {
		return v
	}
	if a := r.Auth; a != nil {
		av := &AuthView{AccessToken: a.AccessToken, TokenType: a.TokenType, RefreshToken: a.RefreshToken, IDToken: a.IDToken}
		if a.CreatedAt != nil {
			s := a.CreatedAt.GetSeconds()
			av.CreatedAt = &s
		}
		v.Auth = av
	}
	if c := r.Context; c != nil {
		v.Context = &ContextView{
			Status:   c.Status,
			PlanName: c.PlanName,
			Email:    c.Email,
			Models:   modelsView(c.Models),
			Plan:     planView(c.Plan),
		}
	}
	v.Subscription = planView(r.Subscription)

	for num, dst := range map[protowire.Number]**string{
		5: &v.Field5, 7: &v.Field7, 9: &v.Field9, 10: &v.Field10, 11: &v.Field11,
		15: &v.Field15, 16: &v.Field16, 17: &v.Field17, 18: &v.Field18,
	} {
		if b := r.Opaque[num]; len(b) > 0 {
			s := base64.StdEncoding.EncodeToString(b)
			*dst = &s
		}
	}
	return v
}

func planView(p *Plan) *PlanView {
	if p == nil {
		return nil
	}
	return &PlanView{
		TierID:         p.TierID,
		TierName:       p.TierName,
		DisplayName:    p.DisplayName,
		UpgradeURL:     p.UpgradeURL,
		UpgradeMessage: p.UpgradeMessage,
	}
}

func modelsView(m *Models) *ModelsView {
	if m == nil {
		return nil
	}
	mv := &ModelsView{Items: make([]ModelView, 0, len(m.Items))}
	for _, it := range m.Items {
		if it == nil {
			continue
		}
		item := ModelView{
			Name:           it.Name,
			Tag:            it.Tag,
			SupportedTypes: []string{},
			Field5:         unknownValue(it.Unknown, 5),
			Field11:        unknownValue(it.Unknown, 11),
		}
		if it.ID != nil {
			id := it.ID.ID
			item.ID = &id
		}
		for _, t := range it.SupportedTypes {
			if t != nil {
				item.SupportedTypes = append(item.SupportedTypes, t.MimeType)
			}
		}
		if q := it.Quota; q != nil {
			item.Quota = &QuotaView{RemainingFraction: q.RemainingFraction, ResetTime: q.ResetTime}
		}
		mv.Items = append(mv.Items, item)
	}
	if r := m.Recommended; r != nil {
		rv := &RecommendedView{Category: r.Category}
		if r.List != nil {
			rv.ModelNames = r.List.Names
		}
		mv.Recommended = rv
	}
	if d := m.DefaultModel; d != nil && d.Model != nil {
		id := d.Model.ID
		mv.DefaultModel = &id
	}
	return mv
}

// unknownValue returns the last occurrence of field num in raw, which holds
// tagged fields the decoder did not recognise.
func unknownValue(raw []byte, num protowire.Number) any {
	var out any
	for len(raw) > 0 {
		n, typ, tl := protowire.ConsumeTag(raw)
		if tl < 0 {
			return out
		}
		raw = raw[tl:]
		vl := protowire.ConsumeFieldValue(n, typ, raw)
		if vl < 0 {
			return out
		}
		if n == num {
			switch typ {
			case protowire.VarintType:
				v, _ := protowire.ConsumeVarint(raw)
				out = int64(v)
			case protowire.Fixed32Type:
				v, _ := protowire.ConsumeFixed32(raw)
				out = v
			case protowire.Fixed64Type:
				v, _ := protowire.ConsumeFixed64(raw)
				out = v
			case protowire.BytesType:
				v, _ := protowire.ConsumeBytes(raw)
				out = base64.StdEncoding.EncodeToString(v)
			}
		}
		raw = raw[vl:]
	}
	return out
}
