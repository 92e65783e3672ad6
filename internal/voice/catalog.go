package voice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/silentchat/internal/reliability"
)

type selection int

const (
	selectionNone selection = iota
	selectionMale
	selectionFemale
	// selectionFallback records an explicit but unrecognized choice: the
	// engine default voice with default pitch.
	selectionFallback
)

// CatalogSnapshot is the read model for the voice picker.
type CatalogSnapshot struct {
	Male       VoiceProfile `json:"male"`
	Female     VoiceProfile `json:"female"`
	Selected   Label        `json:"selected,omitempty"`
	Discovered bool         `json:"discovered"`
	VoiceCount int          `json:"voice_count"`
}

// Catalog resolves the Male/Female profile pair from the engine's voices and
// owns the current profile selection.
type Catalog struct {
	mu         sync.RWMutex
	lang       string
	log        zerolog.Logger
	male       VoiceProfile
	female     VoiceProfile
	discovered bool
	voiceCount int
	selected   selection
	onChange   func(CatalogSnapshot)
}

func NewCatalog(lang string, log zerolog.Logger) *Catalog {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		lang = "en"
	}
	return &Catalog{
		lang:   lang,
		log:    log,
		male:   newProfile(LabelMale, nil),
		female: newProfile(LabelFemale, nil),
	}
}

// SetChangeHook registers a callback invoked after every discovery or selection change.
func (c *Catalog) SetChangeHook(hook func(CatalogSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = hook
}

// Discover replaces the profile pair from a fresh voice list. The first
// discovery selects Female unless the user already chose something.
func (c *Catalog) Discover(voices []Voice) (VoiceProfile, VoiceProfile) {
	male, female := ResolveProfiles(voices, c.lang)

	c.mu.Lock()
	c.male = male
	c.female = female
	c.discovered = true
	c.voiceCount = len(voices)
	if c.selected == selectionNone {
		c.selected = selectionFemale
	}
	snap := c.snapshotLocked()
	hook := c.onChange
	c.mu.Unlock()

	c.log.Debug().
		Int("voices", len(voices)).
		Str("male_voice", male.VoiceID()).
		Str("female_voice", female.VoiceID()).
		Msg("voice profiles resolved")

	if hook != nil {
		hook(snap)
	}
	return male, female
}

// Refresh queries the engine once and rediscovers.
func (c *Catalog) Refresh(ctx context.Context, engine Engine) error {
	voices, err := engine.Voices(ctx)
	if err != nil {
		return err
	}
	c.Discover(voices)
	return nil
}

// discoveryRetry covers engines whose voice list is slow to come up.
var discoveryRetry = reliability.Policy{Attempts: 3, Base: 250 * time.Millisecond, Cap: 2 * time.Second}

// Watch runs an initial discovery and then rediscovers on every voice-list
// change until ctx is done.
func (c *Catalog) Watch(ctx context.Context, engine Engine) {
	err := reliability.Retry(ctx, discoveryRetry, func(ctx context.Context) error {
		return c.Refresh(ctx, engine)
	})
	if err != nil && ctx.Err() == nil {
		c.log.Warn().Err(err).Str("engine", engine.Name()).Msg("initial voice discovery failed")
	}
	changed := engine.VoicesChanged()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changed:
			if !ok {
				return
			}
			if err := c.Refresh(ctx, engine); err != nil {
				c.log.Warn().Err(err).Str("engine", engine.Name()).Msg("voice rediscovery failed")
			}
		}
	}
}

// Select sets the current profile. Unknown labels fall back to the engine
// default voice and pitch; they are never an error.
func (c *Catalog) Select(raw string) VoiceProfile {
	label, ok := ParseLabel(raw)

	c.mu.Lock()
	switch {
	case !ok:
		c.selected = selectionFallback
	case label == LabelMale:
		c.selected = selectionMale
	default:
		c.selected = selectionFemale
	}
	profile, _ := c.selectedLocked()
	snap := c.snapshotLocked()
	hook := c.onChange
	c.mu.Unlock()

	if !ok {
		c.log.Warn().Str("profile", raw).Msg("unknown voice profile requested, using engine default")
	}
	if hook != nil {
		hook(snap)
	}
	return profile
}

// Selected returns the active profile; ok is false when there is no usable
// selection and playback should use the engine default voice and pitch.
func (c *Catalog) Selected() (VoiceProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selectedLocked()
}

// Profile returns the profile for a label.
func (c *Catalog) Profile(label Label) VoiceProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if label == LabelMale {
		return c.male
	}
	return c.female
}

func (c *Catalog) Snapshot() CatalogSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Catalog) selectedLocked() (VoiceProfile, bool) {
	switch c.selected {
	case selectionMale:
		return c.male, true
	case selectionFemale:
		return c.female, true
	default:
		return VoiceProfile{PitchHint: DefaultPitch, RateMultiplier: 1.0}, false
	}
}

func (c *Catalog) snapshotLocked() CatalogSnapshot {
	snap := CatalogSnapshot{
		Male:       c.male,
		Female:     c.female,
		Discovered: c.discovered,
		VoiceCount: c.voiceCount,
	}
	switch c.selected {
	case selectionMale:
		snap.Selected = LabelMale
	case selectionFemale:
		snap.Selected = LabelFemale
	}
	return snap
}

// ResolveProfiles picks the platform voices backing the Male and Female
// profiles. With no voices both profiles are synthesized from pitch hints.
func ResolveProfiles(voices []Voice, lang string) (VoiceProfile, VoiceProfile) {
	if len(voices) == 0 {
		return newProfile(LabelMale, nil), newProfile(LabelFemale, nil)
	}
	male := findMaleVoice(voices, lang)
	female := findFemaleVoice(voices, lang, male)
	return newProfile(LabelMale, male), newProfile(LabelFemale, female)
}

func findMaleVoice(voices []Voice, lang string) *Voice {
	if v := firstVoice(voices, func(v Voice) bool {
		return speaksLang(v, lang) && namesMale(v)
	}); v != nil {
		return v
	}
	if v := firstVoice(voices, func(v Voice) bool {
		return speaksLang(v, lang) && !namesFemale(v)
	}); v != nil {
		return v
	}
	if v := firstVoice(voices, func(v Voice) bool { return speaksLang(v, lang) }); v != nil {
		return v
	}
	return &voices[0]
}

func findFemaleVoice(voices []Voice, lang string, male *Voice) *Voice {
	if v := firstVoice(voices, func(v Voice) bool {
		return speaksLang(v, lang) && namesFemale(v)
	}); v != nil {
		return v
	}
	if v := firstVoice(voices, namesFemale); v != nil {
		return v
	}
	differs := func(v Voice) bool { return male == nil || v.ID != male.ID }
	if v := firstVoice(voices, func(v Voice) bool {
		return speaksLang(v, lang) && differs(v)
	}); v != nil {
		return v
	}
	if v := firstVoice(voices, differs); v != nil {
		return v
	}
	return &voices[0]
}

func firstVoice(voices []Voice, match func(Voice) bool) *Voice {
	for i := range voices {
		if match(voices[i]) {
			v := voices[i]
			return &v
		}
	}
	return nil
}

func speaksLang(v Voice, lang string) bool {
	l := strings.ToLower(strings.TrimSpace(v.Lang))
	if l == lang || strings.HasPrefix(l, lang+"-") || strings.HasPrefix(l, lang+"_") {
		return true
	}
	return lang == "en" && strings.Contains(strings.ToLower(v.Name), "english")
}

func namesFemale(v Voice) bool {
	return strings.Contains(strings.ToLower(v.Name), "female")
}

func namesMale(v Voice) bool {
	name := strings.ToLower(v.Name)
	return strings.Contains(name, "male") && !strings.Contains(name, "female")
}
