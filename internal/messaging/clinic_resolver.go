package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrClinicNotFound is returned when a WhatsApp phone number id is not mapped to a clinic.
var ErrClinicNotFound = errors.New("messaging: clinic not found for phone number id")

// ClinicResolver maps the receiving WhatsApp business number to a clinic.
type ClinicResolver interface {
	ResolveClinicID(ctx context.Context, phoneNumberID string) (string, error)
}

// StaticClinicResolver is backed by the WHATSAPP_CLINIC_MAP_JSON mapping.
type StaticClinicResolver struct {
	mapping map[string]string
	numbers map[string]string
}

// NewStaticClinicResolver builds a resolver from phone-number-id to clinic id.
func NewStaticClinicResolver(mapping map[string]string) *StaticClinicResolver {
	normalized := make(map[string]string, len(mapping))
	numbers := make(map[string]string, len(mapping))
	for raw, clinicID := range mapping {
		key := strings.TrimSpace(raw)
		clinicID = strings.TrimSpace(clinicID)
		if key == "" || clinicID == "" {
			continue
		}
		normalized[key] = clinicID
		if _, ok := numbers[clinicID]; !ok {
			numbers[clinicID] = key
		}
	}
	return &StaticClinicResolver{mapping: normalized, numbers: numbers}
}

// ParseClinicMap decodes a JSON object such as {"1098765":"clinic-1"}.
func ParseClinicMap(raw string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("messaging: invalid clinic map: %w", err)
	}
	return out, nil
}

// ResolveClinicID implements ClinicResolver.
func (r *StaticClinicResolver) ResolveClinicID(ctx context.Context, phoneNumberID string) (string, error) {
	if r == nil {
		return "", ErrClinicNotFound
	}
	clinicID, ok := r.mapping[strings.TrimSpace(phoneNumberID)]
	if !ok {
		return "", ErrClinicNotFound
	}
	return clinicID, nil
}

// PhoneNumberID returns the sending number configured for clinicID.
func (r *StaticClinicResolver) PhoneNumberID(clinicID string) string {
	if r == nil {
		return ""
	}
	return r.numbers[clinicID]
}

// NormalizeE164 renders a WhatsApp wa_id ("15550001111") as +15550001111.
func NormalizeE164(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}
