package generator

import "strings"

const (
	gcsScheme     = "gs://"
	gcsPublicHost = "https://storage.googleapis.com/"
)

// PublicURL maps gs://bucket/path to https://storage.googleapis.com/bucket/path.
// Values that are not gs:// locators are returned unchanged.
func PublicURL(locator string) string {
	rest, ok := strings.CutPrefix(locator, gcsScheme)
	if !ok {
		return locator
	}
	return gcsPublicHost + rest
}

// LocatorFromPublicURL is the inverse of PublicURL.
func LocatorFromPublicURL(publicURL string) string {
	rest, ok := strings.CutPrefix(publicURL, gcsPublicHost)
	if !ok {
		return publicURL
	}
	return gcsScheme + rest
}
