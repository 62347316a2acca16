package domain

import "time"

// Record constraints.
const (
	MaxUserAgentLength   = 512
	MaxFingerprintLength = 256
	MaxPresenterLength   = 128
	MaxSignatureBytes    = 512 * 1024
)

// Geolocation is a single point-in-time position reported by a client.
type Geolocation struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	// Accuracy is the reported uncertainty radius in meters.
	Accuracy float64 `json:"accuracy"`
}

// ClientInfo is the device evidence of a presenting client.
type ClientInfo struct {
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Truncated returns a copy with fields cut to storage limits.
func (c ClientInfo) Truncated() ClientInfo {
	if len(c.UserAgent) > MaxUserAgentLength {
		c.UserAgent = c.UserAgent[:MaxUserAgentLength]
	}
	if len(c.Fingerprint) > MaxFingerprintLength {
		c.Fingerprint = c.Fingerprint[:MaxFingerprintLength]
	}
	return c
}

// SignatureEvidence is the signature payload captured for a signing record.
type SignatureEvidence struct {
	// Data is the opaque signature artifact (typically a data URL image).
	Data        string `json:"data"`
	SignerName  string `json:"signer_name,omitempty"`
	SignerEmail string `json:"signer_email,omitempty"`
	Attested    bool   `json:"attested"`
}

// Record is one consumption attempt: a check-in or a signing. Valid records
// are created together with the use they account for; rejected attempts are
// kept for audit with Valid=false. Records are never mutated.
type Record struct {
	// ID format: ctr-{ulid_lowercase}.
	ID             string `json:"id"`
	TokenID        string `json:"token_id"`
	Kind           Kind   `json:"kind"`
	OrganizationID string `json:"organization_id"`

	// Presenter identifies who presented the token (student id for QR scans,
	// signer subject for signatures). May be empty for anonymous access.
	Presenter string `json:"presenter,omitempty"`

	// Sequence is assigned by the store and increases per token.
	Sequence  int64 `json:"sequence"`
	CreatedAt int64 `json:"created_at"`

	Geolocation      *Geolocation `json:"geolocation,omitempty"`
	DistanceMeters   *float64     `json:"distance_meters,omitempty"`
	LocationVerified bool         `json:"location_verified"`

	Client    ClientInfo         `json:"client"`
	Signature *SignatureEvidence `json:"signature,omitempty"`

	// IntegritySeal is a keyed hash over the signing evidence.
	IntegritySeal string `json:"integrity_seal,omitempty"`

	Valid           bool   `json:"valid"`
	ValidationError string `json:"validation_error,omitempty"`
}

// NewRecord creates a record for token with a generated ID.
func NewRecord(t *Token, now time.Time) (*Record, error) {
	id, err := NewID(RecordIDPrefix, now)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:             id,
		TokenID:        t.ID,
		Kind:           t.Kind,
		OrganizationID: t.Scope.OrganizationID,
		CreatedAt:      now.UnixMilli(),
	}, nil
}

// Reject marks the record as a rejected attempt caused by err.
func (r *Record) Reject(err error) {
	r.Valid = false
	if code := GetErrorCode(err); code != "" {
		r.ValidationError = code
		return
	}
	r.ValidationError = err.Error()
}

// Clone creates a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	if r.Geolocation != nil {
		g := *r.Geolocation
		c.Geolocation = &g
	}
	if r.DistanceMeters != nil {
		d := *r.DistanceMeters
		c.DistanceMeters = &d
	}
	if r.Signature != nil {
		s := *r.Signature
		c.Signature = &s
	}
	return &c
}
