package catalog

import (
	"context"
	"regexp"
	"strings"
)

// themeInlinePatterns extract the theme name from the homepage source.
// Ordered from most to least specific.
var themeInlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)Shopify\.theme\s*=\s*\{[^}]*?["']?name["']?\s*:\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)Shopify\.theme\.name\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)BOOMR\.themeName\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)data-theme-name\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)data-theme\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)\btheme_name\b\s*[:=]\s*["']([^"']+)["']`),
}

// themeAssetComment matches theme headers in CSS/JS asset files
var themeAssetComment = regexp.MustCompile(`(?im)^\s*(?:/\*+|//|\*)\s*theme(?:\s+name)?\s*[:=-]\s*([^\n*]{2,120})`)

// themeIDPattern pulls the numeric theme id out of CDN asset paths
var themeIDPattern = regexp.MustCompile(`/cdn/shop/t/(\d+)/`)

// genericThemeName rejects placeholder names like theme_t_123 that carry
// no information beyond the theme id
var genericThemeName = regexp.MustCompile(`(?i)\btheme[_-]?t?_\d+\b`)

// themeAssetCandidates are probed when the homepage itself does not name
// the theme
var themeAssetCandidates = []string{
	"/assets/theme.js",
	"/assets/theme.css",
	"/assets/base.css",
	"/assets/style.css",
	"/assets/theme.min.js",
	"/assets/theme.min.css",
}

// detectTheme resolves the Shopify theme name and id for a storefront.
// Inline homepage patterns are tried first, then a handful of well-known
// asset files. When only the id is found the name falls back to
// "theme_t_<id>"; with nothing at all it stays "NA".
func (a *Analyzer) detectTheme(ctx context.Context, siteURL, html string) (string, string) {
	themeID := ""
	if m := themeIDPattern.FindStringSubmatch(html); m != nil {
		themeID = m[1]
	}

	for _, pattern := range themeInlinePatterns {
		if m := pattern.FindStringSubmatch(html); m != nil {
			if name := cleanThemeName(m[1]); name != "" {
				return name, themeID
			}
		}
	}

	for _, asset := range themeAssetCandidates {
		if ctx.Err() != nil {
			break
		}
		body, ok := a.fetchPage(ctx, siteURL+asset)
		if !ok {
			continue
		}
		if themeID == "" {
			if m := themeIDPattern.FindStringSubmatch(body); m != nil {
				themeID = m[1]
			}
		}
		if m := themeAssetComment.FindStringSubmatch(body); m != nil {
			if name := cleanThemeName(m[1]); name != "" {
				return name, themeID
			}
		}
		for _, pattern := range themeInlinePatterns {
			if m := pattern.FindStringSubmatch(body); m != nil {
				if name := cleanThemeName(m[1]); name != "" {
					return name, themeID
				}
			}
		}
	}

	if themeID != "" {
		return "theme_t_" + themeID, themeID
	}
	return "NA", ""
}

// cleanThemeName normalizes an extracted name and drops placeholders
func cleanThemeName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.Trim(name, `"'*/\->=:`)
	name = strings.Join(strings.Fields(name), " ")

	if len(name) < 2 || len(name) > 120 {
		return ""
	}
	if genericThemeName.MatchString(name) {
		return ""
	}
	return name
}
