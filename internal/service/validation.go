package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/pkg/util"
)

// MediaKind is the coarse media classification the rule table works with.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// MediaRef is the parsed form of an opaque media reference. The composer
// encodes refs as "kind:id" with an optional ":<seconds>" duration
// suffix and an optional ":<width>x<height>" dimensions suffix,
// e.g. "video:m_8f2:35:1080x1920". Image refs use 0 for the seconds
// slot when carrying dimensions.
type MediaRef struct {
	Kind     MediaKind
	ID       string
	Duration time.Duration
	Width    int
	Height   int
}

// AspectRatio returns width/height, or 0 when dimensions are unknown.
func (m MediaRef) AspectRatio() float64 {
	if m.Width <= 0 || m.Height <= 0 {
		return 0
	}
	return float64(m.Width) / float64(m.Height)
}

// ParseMediaRef splits a media reference into kind, id, duration and
// dimensions.
func ParseMediaRef(ref string) (MediaRef, error) {
	parts := strings.SplitN(ref, ":", 4)
	if len(parts) < 2 || parts[1] == "" {
		return MediaRef{}, fmt.Errorf("malformed media ref %q", ref)
	}

	kind := MediaKind(parts[0])
	if kind != MediaKindImage && kind != MediaKindVideo {
		return MediaRef{}, fmt.Errorf("unknown media kind %q in ref %q", parts[0], ref)
	}

	parsed := MediaRef{Kind: kind, ID: parts[1]}
	if len(parts) >= 3 && parts[2] != "" {
		seconds, err := strconv.Atoi(parts[2])
		if err != nil || seconds < 0 {
			return MediaRef{}, fmt.Errorf("bad duration in media ref %q", ref)
		}
		parsed.Duration = time.Duration(seconds) * time.Second
	}
	if len(parts) == 4 && parts[3] != "" {
		rawWidth, rawHeight, found := strings.Cut(parts[3], "x")
		if !found {
			return MediaRef{}, fmt.Errorf("bad dimensions in media ref %q", ref)
		}
		width, werr := strconv.Atoi(rawWidth)
		height, herr := strconv.Atoi(rawHeight)
		if werr != nil || herr != nil || width <= 0 || height <= 0 {
			return MediaRef{}, fmt.Errorf("bad dimensions in media ref %q", ref)
		}
		parsed.Width = width
		parsed.Height = height
	}
	return parsed, nil
}

// PlatformRules is one platform's content limits for one post type.
// Zero-valued numeric limits mean "no limit".
type PlatformRules struct {
	MaxTextLength    int
	MaxHashtags      int
	MaxMediaCount    int
	AllowedMedia     []MediaKind
	RequiresMedia    bool
	MinVideoDuration time.Duration
	MaxVideoDuration time.Duration

	// Aspect ratio bounds as width/height; only checked when the media
	// ref carries dimensions. Zero means no bound.
	MinAspectRatio float64
	MaxAspectRatio float64
}

// RuleTable maps platform -> post type -> rules. A platform without an
// entry for a post type does not support that format at all.
type RuleTable map[string]map[models.PostType]PlatformRules

// DefaultRules returns the production rule table. Text limits are each
// network's documented caption/body maximum.
func DefaultRules() RuleTable {
	return RuleTable{
		models.PlatformFacebook: {
			models.PostTypeStandard: {
				MaxTextLength: 63206,
				MaxHashtags:   30,
				MaxMediaCount: 10,
				AllowedMedia:  []MediaKind{MediaKindImage, MediaKindVideo},
			},
			models.PostTypeShortVideo: {
				MaxTextLength:    63206,
				MaxHashtags:      30,
				MaxMediaCount:    1,
				AllowedMedia:     []MediaKind{MediaKindVideo},
				RequiresMedia:    true,
				MinVideoDuration: 3 * time.Second,
				MaxVideoDuration: 90 * time.Second,
				MinAspectRatio:   0.5,
				MaxAspectRatio:   0.6,
			},
			models.PostTypeStory: {
				MaxTextLength:    250,
				MaxMediaCount:    1,
				AllowedMedia:     []MediaKind{MediaKindImage, MediaKindVideo},
				RequiresMedia:    true,
				MaxVideoDuration: 120 * time.Second,
				MinAspectRatio:   0.5,
				MaxAspectRatio:   0.6,
			},
		},
		models.PlatformInstagram: {
			models.PostTypeStandard: {
				MaxTextLength: 2200,
				MaxHashtags:   30,
				MaxMediaCount: 10,
				AllowedMedia:  []MediaKind{MediaKindImage, MediaKindVideo},
				RequiresMedia: true, // image-first network, text-only posts are invalid
			},
			models.PostTypeShortVideo: {
				MaxTextLength:    2200,
				MaxHashtags:      30,
				MaxMediaCount:    1,
				AllowedMedia:     []MediaKind{MediaKindVideo},
				RequiresMedia:    true,
				MinVideoDuration: 3 * time.Second,
				MaxVideoDuration: 90 * time.Second,
				MinAspectRatio:   0.5,
				MaxAspectRatio:   0.6,
			},
			models.PostTypeStory: {
				MaxTextLength:    2200,
				MaxMediaCount:    1,
				AllowedMedia:     []MediaKind{MediaKindImage, MediaKindVideo},
				RequiresMedia:    true,
				MaxVideoDuration: 60 * time.Second,
				MinAspectRatio:   0.5,
				MaxAspectRatio:   0.6,
			},
		},
		models.PlatformLinkedIn: {
			models.PostTypeStandard: {
				MaxTextLength: 3000,
				MaxHashtags:   30,
				MaxMediaCount: 9,
				AllowedMedia:  []MediaKind{MediaKindImage, MediaKindVideo},
			},
		},
		models.PlatformTikTok: {
			models.PostTypeShortVideo: {
				MaxTextLength:    2200,
				MaxHashtags:      30,
				MaxMediaCount:    1,
				AllowedMedia:     []MediaKind{MediaKindVideo},
				RequiresMedia:    true,
				MinVideoDuration: 3 * time.Second,
				MaxVideoDuration: 600 * time.Second,
				MinAspectRatio:   0.5,
				MaxAspectRatio:   0.6,
			},
		},
		models.PlatformGoogleBusiness: {
			models.PostTypeStandard: {
				MaxTextLength: 1500,
				MaxHashtags:   10,
				MaxMediaCount: 10,
				AllowedMedia:  []MediaKind{MediaKindImage},
			},
		},
		models.PlatformYouTube: {
			models.PostTypeShortVideo: {
				MaxTextLength:    5000,
				MaxHashtags:      15,
				MaxMediaCount:    1,
				AllowedMedia:     []MediaKind{MediaKindVideo},
				RequiresMedia:    true,
				MinVideoDuration: 1 * time.Second,
				MaxVideoDuration: 60 * time.Second,
				MinAspectRatio:   0.5,
				MaxAspectRatio:   0.6,
			},
		},
		models.PlatformSnapchat: {
			models.PostTypeStory: {
				MaxTextLength:    80,
				MaxMediaCount:    1,
				AllowedMedia:     []MediaKind{MediaKindImage, MediaKindVideo},
				RequiresMedia:    true,
				MaxVideoDuration: 60 * time.Second,
				MinAspectRatio:   0.5,
				MaxAspectRatio:   0.6,
			},
		},
	}
}

// ValidationEngine checks a post against each target platform's rule set
// independently, so one network's tighter limit never rejects the post
// for the others. Pure function over the post and the table; no side
// effects.
type ValidationEngine struct {
	rules RuleTable
}

func NewValidationEngine() *ValidationEngine {
	return &ValidationEngine{rules: DefaultRules()}
}

func NewValidationEngineWithRules(rules RuleTable) *ValidationEngine {
	return &ValidationEngine{rules: rules}
}

// Validate returns nil when the post satisfies every target platform's
// limits, otherwise a *models.ValidationError naming every violation and
// the platform it applies to.
func (e *ValidationEngine) Validate(post *models.Post) error {
	var violations []models.Violation

	if len(post.Platforms) == 0 {
		violations = append(violations, models.Violation{
			Platform: "*",
			Field:    "platforms",
			Message:  "at least one target platform is required",
		})
		return &models.ValidationError{Violations: violations}
	}

	media, mediaViolations := e.parseMedia(post)
	violations = append(violations, mediaViolations...)

	textLen := util.TextLength(post.Content)

	for _, platform := range post.Platforms {
		platformRules, known := e.rules[platform]
		if !known {
			violations = append(violations, models.Violation{
				Platform: platform,
				Field:    "platforms",
				Message:  "unknown platform",
			})
			continue
		}

		rules, supported := platformRules[post.PostType]
		if !supported {
			violations = append(violations, models.Violation{
				Platform: platform,
				Field:    "post_type",
				Message:  fmt.Sprintf("post type %s is not supported", post.PostType),
			})
			continue
		}

		violations = append(violations, e.checkPlatform(post, platform, rules, textLen, media)...)
	}

	if len(violations) > 0 {
		return &models.ValidationError{Violations: violations}
	}
	return nil
}

func (e *ValidationEngine) parseMedia(post *models.Post) ([]MediaRef, []models.Violation) {
	var violations []models.Violation
	media := make([]MediaRef, 0, len(post.MediaRefs))
	for _, raw := range post.MediaRefs {
		parsed, err := ParseMediaRef(raw)
		if err != nil {
			violations = append(violations, models.Violation{
				Platform: "*",
				Field:    "media_refs",
				Message:  err.Error(),
			})
			continue
		}
		media = append(media, parsed)
	}
	return media, violations
}

func (e *ValidationEngine) checkPlatform(post *models.Post, platform string, rules PlatformRules, textLen int, media []MediaRef) []models.Violation {
	var violations []models.Violation

	if rules.MaxTextLength > 0 && textLen > rules.MaxTextLength {
		violations = append(violations, models.Violation{
			Platform: platform,
			Field:    "content",
			Message:  fmt.Sprintf("text length %d exceeds limit %d", textLen, rules.MaxTextLength),
		})
	}

	if rules.MaxHashtags > 0 && len(post.Hashtags) > rules.MaxHashtags {
		violations = append(violations, models.Violation{
			Platform: platform,
			Field:    "hashtags",
			Message:  fmt.Sprintf("%d hashtags exceed limit %d", len(post.Hashtags), rules.MaxHashtags),
		})
	}

	if rules.MaxMediaCount > 0 && len(media) > rules.MaxMediaCount {
		violations = append(violations, models.Violation{
			Platform: platform,
			Field:    "media_refs",
			Message:  fmt.Sprintf("%d media items exceed limit %d", len(media), rules.MaxMediaCount),
		})
	}

	if rules.RequiresMedia && len(media) == 0 {
		violations = append(violations, models.Violation{
			Platform: platform,
			Field:    "media_refs",
			Message:  "at least one media item is required",
		})
	}

	// A post with nothing to show is invalid everywhere.
	if textLen == 0 && len(media) == 0 {
		violations = append(violations, models.Violation{
			Platform: platform,
			Field:    "content",
			Message:  "post has no text and no media",
		})
	}

	for _, m := range media {
		if !kindAllowed(rules.AllowedMedia, m.Kind) {
			violations = append(violations, models.Violation{
				Platform: platform,
				Field:    "media_refs",
				Message:  fmt.Sprintf("media kind %s is not allowed", m.Kind),
			})
			continue
		}
		if ratio := m.AspectRatio(); ratio > 0 {
			if rules.MinAspectRatio > 0 && ratio < rules.MinAspectRatio {
				violations = append(violations, models.Violation{
					Platform: platform,
					Field:    "media_refs",
					Message:  fmt.Sprintf("aspect ratio %.2f is narrower than the %.2f minimum", ratio, rules.MinAspectRatio),
				})
			}
			if rules.MaxAspectRatio > 0 && ratio > rules.MaxAspectRatio {
				violations = append(violations, models.Violation{
					Platform: platform,
					Field:    "media_refs",
					Message:  fmt.Sprintf("aspect ratio %.2f is wider than the %.2f maximum", ratio, rules.MaxAspectRatio),
				})
			}
		}
		if m.Kind != MediaKindVideo || m.Duration == 0 {
			continue
		}
		if rules.MinVideoDuration > 0 && m.Duration < rules.MinVideoDuration {
			violations = append(violations, models.Violation{
				Platform: platform,
				Field:    "media_refs",
				Message:  fmt.Sprintf("video %s is shorter than the %s minimum", m.Duration, rules.MinVideoDuration),
			})
		}
		if rules.MaxVideoDuration > 0 && m.Duration > rules.MaxVideoDuration {
			violations = append(violations, models.Violation{
				Platform: platform,
				Field:    "media_refs",
				Message:  fmt.Sprintf("video %s is longer than the %s maximum", m.Duration, rules.MaxVideoDuration),
			})
		}
	}

	return violations
}

func kindAllowed(allowed []MediaKind, kind MediaKind) bool {
	for _, k := range allowed {
		if k == kind {
			return true
		}
	}
	return false
}
