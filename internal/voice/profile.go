package voice

import "strings"

// Label tags the two voice profiles the UI offers.
type Label string

const (
	LabelMale   Label = "male"
	LabelFemale Label = "female"
)

// ParseLabel accepts "male"/"female" in any case, with or without a trailing
// " voice". Anything else reports ok=false.
func ParseLabel(raw string) (Label, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.TrimSuffix(v, " voice")
	switch v {
	case "male", "m":
		return LabelMale, true
	case "female", "f":
		return LabelFemale, true
	default:
		return "", false
	}
}

const (
	malePitch   = 0.8
	femalePitch = 1.2

	// DefaultPitch applies when no profile is selected or the selection is unknown.
	DefaultPitch = 1.0
)

// VoiceProfile combines an optional platform voice with pitch and rate hints.
// A profile without a platform voice still plays through the engine's default
// voice; only the hints tell male from female then.
type VoiceProfile struct {
	Label             Label   `json:"label"`
	Voice             *Voice  `json:"voice,omitempty"`
	PitchHint         float64 `json:"pitch_hint"`
	RateMultiplier    float64 `json:"rate_multiplier"`
	PlatformSupported bool    `json:"platform_supported"`
}

// VoiceID is the platform handle to use, or "" for the engine default.
func (p VoiceProfile) VoiceID() string {
	if p.Voice == nil {
		return ""
	}
	return p.Voice.ID
}

func (p VoiceProfile) DisplayName() string {
	switch p.Label {
	case LabelMale:
		return "Male"
	case LabelFemale:
		return "Female"
	default:
		return "Default"
	}
}

func newProfile(label Label, v *Voice) VoiceProfile {
	pitch := femalePitch
	if label == LabelMale {
		pitch = malePitch
	}
	return VoiceProfile{
		Label:             label,
		Voice:             v,
		PitchHint:         pitch,
		RateMultiplier:    1.0,
		PlatformSupported: v != nil,
	}
}
