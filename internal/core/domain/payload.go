package domain

import (
	"encoding/json"
	"math"
	"strings"
)

// DefaultAllowedRadiusMeters is the geofence radius used when none is given.
const DefaultAllowedRadiusMeters = 100

// ProximityAnchor is the geofence center of a check-in. It is owned by the
// session and read-only to the verifier.
type ProximityAnchor struct {
	// Latitude and Longitude are nil when the session has no fixed location.
	Latitude            *float64 `json:"latitude,omitempty"`
	Longitude           *float64 `json:"longitude,omitempty"`
	AllowedRadiusMeters float64  `json:"allowed_radius_meters"`
	RequireGeolocation  bool     `json:"require_geolocation"`
}

// HasCoordinates reports whether the anchor has a fixed location.
func (a *ProximityAnchor) HasCoordinates() bool {
	return a != nil && a.Latitude != nil && a.Longitude != nil
}

// Validate checks coordinate ranges and radius.
func (a *ProximityAnchor) Validate() error {
	if a == nil {
		return nil
	}
	var violations []string
	if (a.Latitude == nil) != (a.Longitude == nil) {
		violations = append(violations, "latitude and longitude go together")
	}
	if a.Latitude != nil && (math.IsNaN(*a.Latitude) || *a.Latitude < -90 || *a.Latitude > 90) {
		violations = append(violations, "latitude out of range")
	}
	if a.Longitude != nil && (math.IsNaN(*a.Longitude) || *a.Longitude < -180 || *a.Longitude > 180) {
		violations = append(violations, "longitude out of range")
	}
	if a.AllowedRadiusMeters < 0 {
		violations = append(violations, "allowed_radius_meters must not be negative")
	}
	if len(violations) > 0 {
		return ErrPolicyViolation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// Clone creates a deep copy of the anchor.
func (a *ProximityAnchor) Clone() *ProximityAnchor {
	if a == nil {
		return nil
	}
	c := *a
	if a.Latitude != nil {
		lat := *a.Latitude
		c.Latitude = &lat
	}
	if a.Longitude != nil {
		lon := *a.Longitude
		c.Longitude = &lon
	}
	return &c
}

// PayloadType tags the variant held by a Payload.
type PayloadType string

const (
	PayloadAccess    PayloadType = "access"
	PayloadCheckIn   PayloadType = "checkin"
	PayloadSignature PayloadType = "signature"
)

// AccessPayload is attached to learner access tokens.
type AccessPayload struct {
	// AccessURL is the link handed to the learner, without the token value.
	AccessURL string `json:"access_url,omitempty"`
}

// CheckInPayload is attached to QR check-in tokens.
type CheckInPayload struct {
	Anchor *ProximityAnchor `json:"anchor,omitempty"`
	// SessionID is the attendance session the code was generated for.
	SessionID string `json:"session_id,omitempty"`
}

// SignaturePayload is attached to attendance and document signature tokens.
type SignaturePayload struct {
	RequestID string `json:"request_id"`
	// DocumentRef is an opaque reference to the artifact being signed.
	DocumentRef string           `json:"document_ref,omitempty"`
	SessionID   string           `json:"session_id,omitempty"`
	Anchor      *ProximityAnchor `json:"anchor,omitempty"`
}

// Payload is the per-kind extension of a token. Exactly one variant is set.
type Payload struct {
	Access    *AccessPayload
	CheckIn   *CheckInPayload
	Signature *SignaturePayload
}

// Type returns the tag of the variant set, or "" for an empty payload.
func (p Payload) Type() PayloadType {
	switch {
	case p.Access != nil:
		return PayloadAccess
	case p.CheckIn != nil:
		return PayloadCheckIn
	case p.Signature != nil:
		return PayloadSignature
	}
	return ""
}

// Anchor returns the proximity anchor of the variant, if it has one.
func (p Payload) Anchor() *ProximityAnchor {
	switch {
	case p.CheckIn != nil:
		return p.CheckIn.Anchor
	case p.Signature != nil:
		return p.Signature.Anchor
	}
	return nil
}

// RequestID returns the pending request bound to a signature payload.
func (p Payload) RequestID() string {
	if p.Signature != nil {
		return p.Signature.RequestID
	}
	return ""
}

// MatchesKind reports whether the variant is the one kind expects.
func (p Payload) MatchesKind(kind Kind) bool {
	switch kind {
	case KindLearnerAccess:
		return p.Type() == PayloadAccess || p.Type() == ""
	case KindQRCheckIn:
		return p.Type() == PayloadCheckIn
	case KindAttendanceSignature, KindDocumentSignature:
		return p.Type() == PayloadSignature
	}
	return false
}

// Clone creates a deep copy of the payload.
func (p Payload) Clone() Payload {
	var c Payload
	if p.Access != nil {
		a := *p.Access
		c.Access = &a
	}
	if p.CheckIn != nil {
		ci := *p.CheckIn
		ci.Anchor = p.CheckIn.Anchor.Clone()
		c.CheckIn = &ci
	}
	if p.Signature != nil {
		s := *p.Signature
		s.Anchor = p.Signature.Anchor.Clone()
		c.Signature = &s
	}
	return c
}

type payloadEnvelope struct {
	Type PayloadType     `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the payload as {"type": ..., "data": ...}.
func (p Payload) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch p.Type() {
	case PayloadAccess:
		data, err = json.Marshal(p.Access)
	case PayloadCheckIn:
		data, err = json.Marshal(p.CheckIn)
	case PayloadSignature:
		data, err = json.Marshal(p.Signature)
	default:
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(payloadEnvelope{Type: p.Type(), Data: data})
}

// UnmarshalJSON decodes the tagged representation.
func (p *Payload) UnmarshalJSON(b []byte) error {
	var env payloadEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	*p = Payload{}
	switch env.Type {
	case "":
		return nil
	case PayloadAccess:
		p.Access = &AccessPayload{}
		return json.Unmarshal(env.Data, p.Access)
	case PayloadCheckIn:
		p.CheckIn = &CheckInPayload{}
		return json.Unmarshal(env.Data, p.CheckIn)
	case PayloadSignature:
		p.Signature = &SignaturePayload{}
		return json.Unmarshal(env.Data, p.Signature)
	}
	return ErrBadRequest.WithDetails("unknown payload type " + string(env.Type))
}
