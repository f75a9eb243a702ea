package workflow

import (
	"strings"
)

const (
	maxNewsImages  = 1
	maxImages      = 3
	maxNewsURLLen  = 150
	maxPriorURLLen = 200
)

// resized or proxied image URLs time out the vision endpoint
var imageSkipPatterns = []string{
	"dims4", "dims/", "dimensions", "thumbnail/", "resize/", "crop/",
	"quality/", "format/", "preview.redd.it", "?url=", "?w=", "?h=",
	"%3a%2f%2f", "%2f", "&w=", "&h=", "&q=", "cdn.", "proxy.",
}

var imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

func isHTTP(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func hasImageExt(u string) bool {
	for _, ext := range imageExts {
		if strings.HasSuffix(u, ext) {
			return true
		}
	}
	return false
}

func isImageHost(u string) bool {
	return strings.Contains(u, "i.redd.it") || strings.Contains(u, "i.imgur.com")
}

func plainURL(u string) bool { return !strings.ContainsAny(u, "?%") }

func acceptNewsImage(u string) bool {
	if !isHTTP(u) {
		return false
	}
	lower := strings.ToLower(u)
	for _, p := range imageSkipPatterns {
		if strings.Contains(lower, p) {
			return false
		}
	}
	if !plainURL(u) {
		return false
	}
	return (hasImageExt(u) || isImageHost(u)) && len(u) < maxNewsURLLen
}

func acceptPriorImage(u, trustedHost string) bool {
	if !isHTTP(u) {
		return false
	}
	if trustedHost != "" && strings.Contains(u, trustedHost) {
		return true
	}
	return plainURL(u) && len(u) < maxPriorURLLen && (hasImageExt(u) || isImageHost(u))
}

// selectImages picks the images attached to the decision prompt: at most
// one news image, then images of prior posts, three in total. URLs on
// trustedHost (our object store) bypass the shape checks.
func selectImages(newsImages []string, recent []PublishedPost, trustedHost string) []string {
	var out []string
	for _, u := range newsImages {
		u = strings.TrimSpace(u)
		if acceptNewsImage(u) {
			out = append(out, u)
			if len(out) >= maxNewsImages {
				break
			}
		}
	}
	for _, p := range recent {
		if len(out) >= maxImages {
			break
		}
		u := strings.TrimSpace(p.ImageURL)
		if acceptPriorImage(u, trustedHost) {
			out = append(out, u)
		}
	}
	return out
}
