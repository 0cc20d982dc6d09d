// Package youtube extracts canonical 11-character video ids from the
// URL shapes users paste: watch, embed, /v/, shorts, live and youtu.be
// short links, with optional scheme, www. or m. prefixes and trailing
// query parameters.
package youtube

import "regexp"

var (
	urlRe = regexp.MustCompile(
		`^(?:(?:https?:)?//)?(?:www\.)?(?:m\.)?` +
			`(?:youtube\.com/(?:v/|embed/|watch(?:/|\?v=)|live/|shorts/)|youtu\.be/)` +
			`([a-zA-Z0-9_-]{11})(?:[?&]\S+)?$`)
	bareIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
)

// ExtractVideoID parses a video URL or bare id and returns the video id.
// The second return value is false when the input is not recognized.
func ExtractVideoID(input string) (string, bool) {
	if bareIDRe.MatchString(input) {
		return input, true
	}
	m := urlRe.FindStringSubmatch(input)
	if m == nil {
		return "", false
	}
	return m[1], true
}
