package service

import (
	"fmt"
	"math"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/pkg/geo"
)

// DefaultMaxAccuracyTolerance is the default cap, in meters, on how much a
// reported accuracy may widen the geofence.
const DefaultMaxAccuracyTolerance = 50

// ProximityResult describes one proximity evaluation.
type ProximityResult struct {
	// Measured is true when a distance was computed.
	Measured       bool
	DistanceMeters float64
	AllowedMeters  float64
	// Verified is true when the presenter was measured inside the geofence.
	Verified bool
}

// ProximityVerifier checks a reported position against a geofence anchor.
type ProximityVerifier struct {
	maxAccuracy float64
}

// NewProximityVerifier creates a verifier. A non-positive tolerance uses the
// default.
func NewProximityVerifier(maxAccuracyTolerance float64) *ProximityVerifier {
	if maxAccuracyTolerance <= 0 {
		maxAccuracyTolerance = DefaultMaxAccuracyTolerance
	}
	return &ProximityVerifier{maxAccuracy: maxAccuracyTolerance}
}

// AllowedDistance returns radius + min(max(accuracy, 0), cap).
func (v *ProximityVerifier) AllowedDistance(radius, accuracy float64) float64 {
	if radius <= 0 {
		radius = domain.DefaultAllowedRadiusMeters
	}
	if math.IsNaN(accuracy) || accuracy < 0 {
		accuracy = 0
	}
	return radius + math.Min(accuracy, v.maxAccuracy)
}

// VerifyProximity evaluates fix against anchor.
//
// The check is enforced only when the anchor requires geolocation. A missing
// or unusable fix then fails with ErrNoFix and a fix outside the widened
// radius fails with ErrOutOfRange. An anchor without coordinates cannot be
// measured and passes unverified. The result is returned alongside
// ErrOutOfRange so the distance can be recorded.
func (v *ProximityVerifier) VerifyProximity(anchor *domain.ProximityAnchor, fix *domain.Geolocation) (*ProximityResult, error) {
	res := &ProximityResult{}
	if anchor == nil {
		return res, nil
	}

	required := anchor.RequireGeolocation
	var point geo.Point
	if fix != nil {
		point = geo.Point{Lat: fix.Latitude, Lon: fix.Longitude}
	}
	if fix == nil || !point.Valid() {
		if required {
			if fix == nil {
				return res, domain.ErrNoFix
			}
			return res, domain.ErrNoFix.WithDetails("coordinates out of range")
		}
		return res, nil
	}

	if !anchor.HasCoordinates() {
		return res, nil
	}

	center := geo.Point{Lat: *anchor.Latitude, Lon: *anchor.Longitude}
	res.Measured = true
	res.DistanceMeters = geo.Distance(center, point)
	res.AllowedMeters = v.AllowedDistance(anchor.AllowedRadiusMeters, fix.Accuracy)
	res.Verified = res.DistanceMeters <= res.AllowedMeters

	if required && !res.Verified {
		return res, domain.ErrOutOfRange.WithDetails(fmt.Sprintf(
			"you are %.0f m from the session location, the allowed distance is %.0f m",
			res.DistanceMeters, res.AllowedMeters,
		))
	}
	return res, nil
}

// applyProximity copies the result onto a record.
func applyProximity(r *domain.Record, res *ProximityResult) {
	if res == nil || !res.Measured {
		return
	}
	d := res.DistanceMeters
	r.DistanceMeters = &d
	r.LocationVerified = res.Verified
}
