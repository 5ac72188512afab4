package profile

// Profile is what the coach knows about a client across conversations.
type Profile struct {
	FocusAreas []string `json:"focusAreas"`
	// Stage is a free-form developmental stage tag, e.g. "exploring".
	Stage string   `json:"stage"`
	Goals []string `json:"goals"`
	// Tone is the preferred coaching register, e.g. "direct, no fluff".
	Tone string `json:"tone"`
}

// IsEmpty reports whether no field has been set.
func (p Profile) IsEmpty() bool {
	return len(p.FocusAreas) == 0 && p.Stage == "" && len(p.Goals) == 0 && p.Tone == ""
}

// Profile keys as stored. List values are JSON arrays.
const (
	KeyFocusAreas = "focus_areas"
	KeyStage      = "stage"
	KeyGoals      = "goals"
	KeyTone       = "tone"
)

// ValidKeys lists the keys accepted by Manager.SetField.
var ValidKeys = []string{KeyFocusAreas, KeyStage, KeyGoals, KeyTone}

func isListKey(key string) bool {
	return key == KeyFocusAreas || key == KeyGoals
}
