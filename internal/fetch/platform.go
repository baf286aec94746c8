package fetch

import (
	"net/url"
	"strings"
)

// Platform identifies a known course listing site.
type Platform string

// Platform constants
const (
	PlatformSkillsFuture Platform = "myskillsfuture"
	PlatformProvider     Platform = "provider"
)

// DetectPlatform identifies the listing site from a URL. Anything that is not
// the national course directory is treated as a training provider's own page.
func DetectPlatform(urlStr string) Platform {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return PlatformProvider
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "myskillsfuture.gov.sg" || strings.HasSuffix(host, ".myskillsfuture.gov.sg") {
		return PlatformSkillsFuture
	}
	return PlatformProvider
}

// PlatformContentSelectors returns content selectors for a platform.
func PlatformContentSelectors(platform Platform) []string {
	switch platform {
	case PlatformSkillsFuture:
		return append([]string{
			".course-details-page",
			".course-overview",
			"#courseDetails",
		}, CoursePageSelectors()...)
	default:
		return CoursePageSelectors()
	}
}

// PlatformNoiseSelectors returns noise exclusion selectors for a platform.
func PlatformNoiseSelectors(platform Platform) []string {
	common := []string{
		"form",
		".enquiry-form",
		".register-button",
		".social-share",
		".share-buttons",
		".cookie-consent",
		".related-courses",
		".breadcrumb",
	}
	switch platform {
	case PlatformSkillsFuture:
		return append(common,
			".sf-masthead",
			".course-reviews",
			".similar-courses",
		)
	default:
		return common
	}
}
