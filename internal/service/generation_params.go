package service

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

const (
	minSourceSamples = 1
	maxSourceSamples = 10
)

// SoundLogoParams are the parameters of a sound-logo generation.
type SoundLogoParams struct {
	Duration         *models.FlexInt `json:"duration,omitempty"`
	Mood             string          `json:"mood,omitempty"`
	Tempo            string          `json:"tempo,omitempty"`
	CulturalElements []string        `json:"cultural_elements"`
	BrandValues      []string        `json:"brand_values,omitempty"`
	BrandName        string          `json:"brand_name,omitempty"`
}

// PlaylistParams are the parameters of a playlist generation.
type PlaylistParams struct {
	TargetDuration  *models.FlexInt `json:"target_duration,omitempty"`
	TrackCount      *models.FlexInt `json:"track_count,omitempty"`
	Mood            string          `json:"mood,omitempty"`
	CulturalMix     string          `json:"cultural_mix,omitempty"`
	FadeTransitions *bool           `json:"fade_transitions,omitempty"`
	CulturalOrigins []string        `json:"cultural_origins"`
}

// SocialClipParams are the parameters of a social-clip generation.
type SocialClipParams struct {
	Duration             *models.FlexInt `json:"duration,omitempty"`
	Platform             string          `json:"platform,omitempty"`
	Mood                 string          `json:"mood,omitempty"`
	HookTiming           *models.FlexInt `json:"hook_timing,omitempty"`
	CulturalAuthenticity string          `json:"cultural_authenticity,omitempty"`
}

// LongFormParams are the parameters of a long-form generation.
type LongFormParams struct {
	TargetDuration *models.FlexInt `json:"target_duration,omitempty"`
	Style          string          `json:"style,omitempty"`
	NarrativeArc   string          `json:"narrative_arc,omitempty"`
	CulturalStory  string          `json:"cultural_story,omitempty"`
	IntensityCurve string          `json:"intensity_curve,omitempty"`
}

// normalizeParameters validates raw against the rules for t, fills in
// defaults and returns the canonical JSON that is stored and sent to compute.
func normalizeParameters(t models.GenerationType, raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	var out any
	switch t {
	case models.GenerationTypeSoundLogo:
		var p SoundLogoParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		out = p
	case models.GenerationTypePlaylist:
		var p PlaylistParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		out = p
	case models.GenerationTypeSocialClip:
		var p SocialClipParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		out = p
	case models.GenerationTypeLongForm:
		var p LongFormParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		out = p
	default:
		return nil, invalid("type", "unknown generation type %q", t)
	}

	normalized, err := json.Marshal(out)
	if err != nil {
		return nil, invalid("parameters", "cannot encode parameters")
	}
	return normalized, nil
}

func decodeParams(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid("parameters", "invalid parameters: %v", err)
	}
	return nil
}

func (p *SoundLogoParams) validate() error {
	if err := intInRange("duration", &p.Duration, 10, 3, 15); err != nil {
		return err
	}
	if err := oneOf("mood", &p.Mood, "professional", "professional", "energetic", "calm", "mysterious", "modern"); err != nil {
		return err
	}
	if err := oneOf("tempo", &p.Tempo, "medium", "slow", "medium", "fast"); err != nil {
		return err
	}
	if err := countInRange("cultural_elements", len(p.CulturalElements), 1, 3); err != nil {
		return err
	}
	return countInRange("brand_values", len(p.BrandValues), 0, 5)
}

func (p *PlaylistParams) validate() error {
	if err := intInRange("target_duration", &p.TargetDuration, 1800, 300, 3600); err != nil {
		return err
	}
	if err := intInRange("track_count", &p.TrackCount, 8, 3, 20); err != nil {
		return err
	}
	if err := oneOf("mood", &p.Mood, "chill", "chill", "energetic", "ambient", "ceremonial", "uplifting"); err != nil {
		return err
	}
	if err := oneOf("cultural_mix", &p.CulturalMix, "diverse", "single", "diverse"); err != nil {
		return err
	}
	if p.FadeTransitions == nil {
		fade := true
		p.FadeTransitions = &fade
	}
	return countInRange("cultural_origins", len(p.CulturalOrigins), 1, 5)
}

func (p *SocialClipParams) validate() error {
	if err := intInRange("duration", &p.Duration, 30, 15, 60); err != nil {
		return err
	}
	if err := oneOf("platform", &p.Platform, "instagram", "instagram", "tiktok", "youtube-shorts", "twitter"); err != nil {
		return err
	}
	if err := oneOf("mood", &p.Mood, "viral", "viral", "emotional", "energetic", "peaceful", "dramatic"); err != nil {
		return err
	}
	if err := intInRange("hook_timing", &p.HookTiming, 2, 0, 5); err != nil {
		return err
	}
	return oneOf("cultural_authenticity", &p.CulturalAuthenticity, "modern-fusion", "traditional", "modern-fusion", "contemporary")
}

func (p *LongFormParams) validate() error {
	if err := intInRange("target_duration", &p.TargetDuration, 300, 120, 1800); err != nil {
		return err
	}
	if err := oneOf("style", &p.Style, "ambient", "documentary", "ambient", "cinematic", "meditation", "background"); err != nil {
		return err
	}
	if err := oneOf("narrative_arc", &p.NarrativeArc, "building", "static", "building", "cyclical", "journey"); err != nil {
		return err
	}
	if len([]rune(p.CulturalStory)) > 500 {
		return invalid("cultural_story", "must be at most 500 characters")
	}
	return oneOf("intensity_curve", &p.IntensityCurve, "wave", "flat", "crescendo", "wave", "diminuendo")
}

// intInRange defaults a missing value and checks [lo, hi].
func intInRange(field string, v **models.FlexInt, def, lo, hi int) error {
	if *v == nil {
		d := models.FlexInt(def)
		*v = &d
		return nil
	}
	if n := (*v).Int(); n < lo || n > hi {
		return invalid(field, "must be between %d and %d, got %d", lo, hi, n)
	}
	return nil
}

// oneOf defaults an empty value and checks membership.
func oneOf(field string, v *string, def string, allowed ...string) error {
	if *v == "" {
		*v = def
		return nil
	}
	if !slices.Contains(allowed, *v) {
		return invalid(field, "must be one of %v, got %q", allowed, *v)
	}
	return nil
}

func countInRange(field string, n, lo, hi int) error {
	if n < lo || n > hi {
		if lo == 0 {
			return invalid(field, "must have at most %d items", hi)
		}
		return invalid(field, "must have between %d and %d items", lo, hi)
	}
	return nil
}

// validateSourceSampleIDs checks count and uniqueness; existence is checked
// against the catalogue separately.
func validateSourceSampleIDs(ids []string) error {
	if len(ids) < minSourceSamples || len(ids) > maxSourceSamples {
		return invalid("source_sample_ids", "must have between %d and %d items", minSourceSamples, maxSourceSamples)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return invalid("source_sample_ids", "must not contain empty ids")
		}
		if seen[id] {
			return invalid("source_sample_ids", "duplicate id %s", id)
		}
		seen[id] = true
	}
	return nil
}
