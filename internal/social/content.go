// Package social builds platform captions and hashtags and publishes them.
package social

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	Instagram = "instagram"
	Twitter   = "twitter"
	LinkedIn  = "linkedin"
	TikTok    = "tiktok"
	Facebook  = "facebook"
	Pinterest = "pinterest"
)

// Platforms lists the supported targets in display order.
var Platforms = []string{Instagram, Facebook, Twitter, LinkedIn, TikTok, Pinterest}

var hashtagLimits = map[string]int{
	Instagram: 30,
	Twitter:   2,
	LinkedIn:  5,
	TikTok:    5,
	Facebook:  3,
	Pinterest: 20,
}

var captionTemplates = map[string]string{
	"en": "✨ Discover the magic of %s! 🌟\n\nHere's something that will transform your perspective...\n\n💡 Pro tip: Save this for later!\n\n👉 What's your take? Comment below! ⬇️",
	"es": "✨ ¡Descubre la magia de %s! 🌟\n\nAquí tienes algo que transformará tu perspectiva...\n\n💡 Consejo profesional: ¡Guarda esto para después!\n\n👉 ¿Cuál es tu opinión? ¡Comenta abajo! ⬇️",
	"fr": "✨ Découvrez la magie de %s! 🌟\n\nVoici quelque chose qui transformera votre perspective...\n\n💡 Astuce pro: Enregistrez ceci pour plus tard!\n\n👉 Votre avis? Commentez ci-dessous! ⬇️",
}

var professionalKeywords = []string{"business", "professional", "career", "industry",
	"innovation", "leadership", "strategy", "growth"}

func Supported(platform string) bool {
	_, ok := hashtagLimits[platform]
	return ok
}

// NormalizeLanguage maps unknown languages to English.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := captionTemplates[lang]; ok {
		return lang
	}
	return "en"
}

func Caption(topic, lang string) string {
	return fmt.Sprintf(captionTemplates[NormalizeLanguage(lang)], topic)
}

func baseHashtags(topic, lang string) []string {
	tags := []string{
		"#" + strings.ReplaceAll(strings.ToLower(topic), " ", ""),
		"#viral", "#trending", "#fyp", "#explore", "#instagood",
		"#photooftheday", "#reels", "#instadaily", "#motivation",
	}
	switch NormalizeLanguage(lang) {
	case "es":
		tags = append(tags, "#tendencia", "#explorar")
	case "fr":
		tags = append(tags, "#tendance", "#découvrir")
	}
	return tags
}

func isProfessional(tag string) bool {
	lower := strings.ToLower(tag)
	for _, kw := range professionalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Hashtags returns the tag set for each requested platform, capped per platform.
// LinkedIn only receives tags with a professional keyword.
func Hashtags(topic, lang string, platforms []string) map[string][]string {
	base := baseHashtags(topic, lang)
	out := make(map[string][]string, len(platforms))
	for _, p := range platforms {
		limit, ok := hashtagLimits[p]
		if !ok {
			continue
		}
		tags := base
		if p == LinkedIn {
			tags = nil
			for _, t := range base {
				if isProfessional(t) {
					tags = append(tags, t)
				}
			}
		}
		if len(tags) > limit {
			tags = tags[:limit]
		}
		out[p] = append([]string{}, tags...)
	}
	return out
}

// Dimensions picks the image size for a platform mix. Instagram's square wins when present.
func Dimensions(platforms []string) (int, int) {
	sizes := map[string][2]int{
		Instagram: {1080, 1080},
		Facebook:  {1200, 630},
		Twitter:   {1200, 675},
		LinkedIn:  {1200, 627},
		Pinterest: {1000, 1500},
		TikTok:    {1080, 1920},
	}
	for _, p := range platforms {
		if p == Instagram {
			return 1080, 1080
		}
	}
	if len(platforms) > 0 {
		if s, ok := sizes[platforms[0]]; ok {
			return s[0], s[1]
		}
	}
	return 1080, 1080
}

// Format lays out the caption and tags the way each platform expects.
func Format(platform, caption string, tags []string) string {
	joined := strings.Join(tags, " ")
	switch platform {
	case Twitter:
		limit := 280 - utf8.RuneCountInString(joined) - 5
		if limit < 0 {
			limit = 0
		}
		return strings.TrimSpace(truncate(caption, limit) + " " + joined)
	case TikTok:
		return truncate(caption, 150) + "\n\n" + joined
	case Instagram:
		if len(tags) > 10 {
			return caption
		}
	}
	if joined == "" {
		return caption
	}
	return caption + "\n\n" + joined
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
