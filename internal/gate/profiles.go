package gate

import (
	"time"

	"github.com/viktorbezdek/mkb/internal/schema"
)

// DefaultProfiles are the built-in per-type decay profiles (4.3.1),
// used as a fallback when a type's schema declares no decay block of
// its own.
var DefaultProfiles = map[string]schema.DecayProfile{
	"project": {HalfLife: dur(14 * 24 * time.Hour), HardExpiry: dur(60 * 24 * time.Hour)},
	"signal":  {HalfLife: dur(7 * 24 * time.Hour), HardExpiry: dur(30 * 24 * time.Hour)},
	"decision": {HalfLife: schema.Duration{}, HardExpiry: schema.Duration{}},
	"meeting":  {HalfLife: schema.Duration{}, HardExpiry: schema.Duration{}},
	"person":   {HalfLife: dur(180 * 24 * time.Hour), HardExpiry: dur(365 * 24 * time.Hour)},
	"concept":  {HalfLife: dur(365 * 24 * time.Hour), HardExpiry: schema.Duration{}},
}

func dur(d time.Duration) schema.Duration { return schema.Duration{Duration: d} }

// ResolveProfile returns the decay profile for typeName: the schema's
// own declared profile if non-zero, else the built-in default, else the
// zero profile (never decays, never expires).
func ResolveProfile(reg *schema.Registry, typeName string) schema.DecayProfile {
	if s, ok := reg.Get(typeName); ok {
		if s.Decay.HalfLife.Duration != 0 || s.Decay.HardExpiry.Duration != 0 {
			return s.Decay
		}
	}
	if p, ok := DefaultProfiles[typeName]; ok {
		return p
	}
	return schema.DecayProfile{}
}
