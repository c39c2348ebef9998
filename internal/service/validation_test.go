package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/models"
)

func violationsFor(t *testing.T, err error) []models.Violation {
	t.Helper()
	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
	return validationErr.Violations
}

func platformsIn(violations []models.Violation) []string {
	var platforms []string
	for _, v := range violations {
		platforms = append(platforms, v.Platform)
	}
	return platforms
}

func TestValidateAcceptsWellFormedPost(t *testing.T) {
	engine := NewValidationEngine()

	err := engine.Validate(&models.Post{
		Content:   "quarterly report is out",
		Hashtags:  models.StringArray{"q3", "report"},
		Platforms: models.StringArray{models.PlatformFacebook, models.PlatformLinkedIn},
		PostType:  models.PostTypeStandard,
	})
	assert.NoError(t, err)
}

func TestValidateEvaluatesPlatformsIndependently(t *testing.T) {
	engine := NewValidationEngine()

	// 2500 runes: fine for facebook and linkedin, over instagram's 2200.
	err := engine.Validate(&models.Post{
		Content: strings.Repeat("a", 2500),
		Platforms: models.StringArray{
			models.PlatformFacebook,
			models.PlatformInstagram,
			models.PlatformLinkedIn,
		},
		MediaRefs: models.StringArray{"image:m_1"},
		PostType:  models.PostTypeStandard,
	})

	violations := violationsFor(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, models.PlatformInstagram, violations[0].Platform)
	assert.Equal(t, "content", violations[0].Field)
}

func TestValidateTextLengthCountsRunes(t *testing.T) {
	engine := NewValidationEngine()

	// 80 multi-byte runes sit exactly at snapchat's cap.
	err := engine.Validate(&models.Post{
		Content:   strings.Repeat("é", 80),
		Platforms: models.StringArray{models.PlatformSnapchat},
		MediaRefs: models.StringArray{"image:m_1"},
		PostType:  models.PostTypeStory,
	})
	assert.NoError(t, err)
}

func TestValidateRejectsEmptyPost(t *testing.T) {
	engine := NewValidationEngine()

	err := engine.Validate(&models.Post{
		Platforms: models.StringArray{models.PlatformFacebook},
		PostType:  models.PostTypeStandard,
	})
	violations := violationsFor(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "post has no text and no media", violations[0].Message)
}

func TestValidateUnknownPlatform(t *testing.T) {
	engine := NewValidationEngine()

	err := engine.Validate(&models.Post{
		Content:   "hello",
		Platforms: models.StringArray{"myspace"},
		PostType:  models.PostTypeStandard,
	})
	violations := violationsFor(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "unknown platform", violations[0].Message)
}

func TestValidateUnsupportedPostType(t *testing.T) {
	engine := NewValidationEngine()

	// tiktok has no standard format; linkedin does.
	err := engine.Validate(&models.Post{
		Content:   "hello",
		Platforms: models.StringArray{models.PlatformTikTok, models.PlatformLinkedIn},
		PostType:  models.PostTypeStandard,
	})
	violations := violationsFor(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, models.PlatformTikTok, violations[0].Platform)
	assert.Equal(t, "post_type", violations[0].Field)
}

func TestValidateRequiresMediaWhereMandatory(t *testing.T) {
	engine := NewValidationEngine()

	err := engine.Validate(&models.Post{
		Content:   "text only",
		Platforms: models.StringArray{models.PlatformInstagram, models.PlatformFacebook},
		PostType:  models.PostTypeStandard,
	})
	violations := violationsFor(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, models.PlatformInstagram, violations[0].Platform)
	assert.Equal(t, "media_refs", violations[0].Field)
}

func TestValidateMediaKindRestrictions(t *testing.T) {
	engine := NewValidationEngine()

	// google-business is image-only.
	err := engine.Validate(&models.Post{
		Content:   "open late on fridays",
		Platforms: models.StringArray{models.PlatformGoogleBusiness},
		MediaRefs: models.StringArray{"video:m_1:20"},
		PostType:  models.PostTypeStandard,
	})
	violations := violationsFor(t, err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "media kind video")
}

func TestValidateVideoDurationBounds(t *testing.T) {
	engine := NewValidationEngine()

	short := &models.Post{
		Content:   "clip",
		Platforms: models.StringArray{models.PlatformTikTok},
		MediaRefs: models.StringArray{"video:m_1:2"}, // under the 3s floor
		PostType:  models.PostTypeShortVideo,
	}
	violations := violationsFor(t, engine.Validate(short))
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "shorter")

	long := &models.Post{
		Content:   "clip",
		Platforms: models.StringArray{models.PlatformYouTube},
		MediaRefs: models.StringArray{"video:m_1:75"}, // over the 60s ceiling
		PostType:  models.PostTypeShortVideo,
	}
	violations = violationsFor(t, engine.Validate(long))
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "longer")
}

func TestValidateHashtagLimit(t *testing.T) {
	engine := NewValidationEngine()

	hashtags := make(models.StringArray, 31)
	for i := range hashtags {
		hashtags[i] = strings.Repeat("x", i+1)
	}

	err := engine.Validate(&models.Post{
		Content:   "tag soup",
		Hashtags:  hashtags,
		Platforms: models.StringArray{models.PlatformInstagram, models.PlatformFacebook},
		MediaRefs: models.StringArray{"image:m_1"},
		PostType:  models.PostTypeStandard,
	})
	violations := violationsFor(t, err)
	require.Len(t, violations, 2)
	assert.ElementsMatch(t,
		[]string{models.PlatformInstagram, models.PlatformFacebook},
		platformsIn(violations))
}

func TestValidateMalformedMediaRef(t *testing.T) {
	engine := NewValidationEngine()

	err := engine.Validate(&models.Post{
		Content:   "hello",
		Platforms: models.StringArray{models.PlatformFacebook},
		MediaRefs: models.StringArray{"gif:m_1", "video:"},
		PostType:  models.PostTypeStandard,
	})
	violations := violationsFor(t, err)
	require.Len(t, violations, 2)
	for _, v := range violations {
		assert.Equal(t, "*", v.Platform)
		assert.Equal(t, "media_refs", v.Field)
	}
}

func TestParseMediaRef(t *testing.T) {
	ref, err := ParseMediaRef("video:m_8f2:35")
	require.NoError(t, err)
	assert.Equal(t, MediaKindVideo, ref.Kind)
	assert.Equal(t, "m_8f2", ref.ID)
	assert.Equal(t, 35*time.Second, ref.Duration)

	ref, err = ParseMediaRef("image:m_1")
	require.NoError(t, err)
	assert.Equal(t, MediaKindImage, ref.Kind)
	assert.Zero(t, ref.Duration)

	_, err = ParseMediaRef("m_1")
	assert.Error(t, err)
	_, err = ParseMediaRef("video:m_1:-4")
	assert.Error(t, err)
}

func TestValidateAspectRatioBounds(t *testing.T) {
	engine := NewValidationEngine()

	vertical := &models.Post{
		Content:   "clip",
		Platforms: models.StringArray{models.PlatformTikTok},
		MediaRefs: models.StringArray{"video:m_1:30:1080x1920"}, // 9:16
		PostType:  models.PostTypeShortVideo,
	}
	assert.NoError(t, engine.Validate(vertical))

	landscape := &models.Post{
		Content:   "clip",
		Platforms: models.StringArray{models.PlatformTikTok},
		MediaRefs: models.StringArray{"video:m_1:30:1920x1080"}, // 16:9
		PostType:  models.PostTypeShortVideo,
	}
	violations := violationsFor(t, engine.Validate(landscape))
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "wider")

	square := &models.Post{
		Content:   "story time",
		Platforms: models.StringArray{models.PlatformSnapchat},
		MediaRefs: models.StringArray{"image:m_1:0:1080x1080"}, // 1:1 on a 9:16 format
		PostType:  models.PostTypeStory,
	}
	violations = violationsFor(t, engine.Validate(square))
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "wider")
}

func TestValidateAspectRatioSkippedWithoutDimensions(t *testing.T) {
	engine := NewValidationEngine()

	// Legacy refs without dimensions still validate on the other rules.
	err := engine.Validate(&models.Post{
		Content:   "clip",
		Platforms: models.StringArray{models.PlatformTikTok},
		MediaRefs: models.StringArray{"video:m_1:30"},
		PostType:  models.PostTypeShortVideo,
	})
	assert.NoError(t, err)
}

func TestParseMediaRefDimensions(t *testing.T) {
	ref, err := ParseMediaRef("video:m_8f2:35:1080x1920")
	require.NoError(t, err)
	assert.Equal(t, 1080, ref.Width)
	assert.Equal(t, 1920, ref.Height)
	assert.InDelta(t, 0.5625, ref.AspectRatio(), 0.0001)

	ref, err = ParseMediaRef("image:m_1:0:1080x1080")
	require.NoError(t, err)
	assert.Equal(t, MediaKindImage, ref.Kind)
	assert.InDelta(t, 1.0, ref.AspectRatio(), 0.0001)

	_, err = ParseMediaRef("video:m_1:30:1080")
	assert.Error(t, err)
	_, err = ParseMediaRef("video:m_1:30:0x1920")
	assert.Error(t, err)
}
