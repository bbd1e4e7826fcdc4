package lifecycle

import (
	"bms_platform/asset_bazaar/schema"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"
)

func validateName(name string) error {
	length := utf8.RuneCountInString(strings.TrimSpace(name))
	if length == 0 || length > schema.MaxNameLength {
		return validationError("name must be between 1 and %d characters", schema.MaxNameLength)
	}
	return nil
}

func validateDescription(description string) error {
	if utf8.RuneCountInString(description) > schema.MaxDescriptionLength {
		return validationError("description must be at most %d characters", schema.MaxDescriptionLength)
	}
	return nil
}

func validateText(field, text string, maxLength int) (string, error) {
	text = strings.TrimSpace(text)
	length := utf8.RuneCountInString(text)
	if length == 0 || length > maxLength {
		return "", validationError("%v must be between 1 and %d characters", field, maxLength)
	}
	return text, nil
}

func validateUrl(field, raw string) error {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return validationError("%v must be an http(s) url", field)
	}
	return nil
}

func validateLicense(license string, licenseUrl *string) error {
	if !slices.Contains(schema.Licenses, license) {
		return validationError("invalid license '%v', must be one of %v", license, schema.Licenses)
	}

	hasUrl := licenseUrl != nil && *licenseUrl != ""
	if license == schema.CustomLicense && !hasUrl {
		return validationError("a custom license requires a license url")
	}
	if license != schema.CustomLicense && hasUrl {
		return validationError("a license url may only be set for a custom license")
	}
	if hasUrl {
		return validateUrl("license url", *licenseUrl)
	}
	return nil
}

// normalizeTags lowercases and dedupes tags, keeping the first occurrence order.
func normalizeTags(tags []string) ([]string, error) {
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if !slices.Contains(schema.Tags, tag) {
			return nil, validationError("unknown tag '%v'", tag)
		}
		if !slices.Contains(normalized, tag) {
			normalized = append(normalized, tag)
		}
	}
	if len(normalized) > schema.MaxTags {
		return nil, validationError("at most %d tags are allowed", schema.MaxTags)
	}
	return normalized, nil
}

func validateFileHash(hash string) error {
	if len(hash) == 0 || len(hash) > schema.MaxFileHashLength {
		return validationError("file hash must be between 1 and %d characters", schema.MaxFileHashLength)
	}
	for _, c := range hash {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return validationError("file hash must be lowercase hex")
		}
	}
	return nil
}
