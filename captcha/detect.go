package captcha

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// widgetMarkers are class or id fragments of the major challenge providers.
var widgetMarkers = []string{
	"g-recaptcha",
	"h-captcha",
	"cf-turnstile",
	"cf-challenge",
	"challenge-form",
	"captcha-container",
	"arkose",
	"funcaptcha",
}

// frameMarkers are src fragments of challenge iframes and scripts.
var frameMarkers = []string{
	"recaptcha/api",
	"hcaptcha.com",
	"challenges.cloudflare.com",
	"arkoselabs.com",
	"funcaptcha.com",
}

// textPhrases is security-check wording found in visible text, lowercase.
var textPhrases = []string{
	"verify you are human",
	"verify you're human",
	"i'm not a robot",
	"security check",
	"security verification",
	"quick security check",
	"unusual activity",
	"confirm it's you",
	"confirm that it's you",
	"enter the code",
	"verification code",
}

// ScanHTML looks for challenge indicators in an HTML document: provider
// widget classes and ids, provider iframe and script sources, and security
// check phrasing in the visible text. extra are additional case-insensitive
// text markers. It returns a short description of the first indicator found,
// or "" when the document looks clean.
func ScanHTML(r io.Reader, extra []string) string {
	phrases := textPhrases
	if len(extra) > 0 {
		phrases = make([]string, 0, len(textPhrases)+len(extra))
		phrases = append(phrases, textPhrases...)
		for _, m := range extra {
			if m = strings.TrimSpace(strings.ToLower(m)); m != "" {
				phrases = append(phrases, m)
			}
		}
	}

	var text strings.Builder
	z := html.NewTokenizer(r)
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return matchPhrase(text.String(), phrases)

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data == "script" || tok.Data == "style" || tok.Data == "noscript" {
				if reason := scanAttrs(tok); reason != "" {
					return reason
				}
				if tok.Type == html.StartTagToken {
					skip++
				}
				continue
			}
			if reason := scanAttrs(tok); reason != "" {
				return reason
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				if skip > 0 {
					skip--
				}
			}

		case html.TextToken:
			if skip == 0 {
				text.Write(z.Text())
				text.WriteByte(' ')
			}
		}
	}
}

func scanAttrs(tok html.Token) string {
	for _, a := range tok.Attr {
		v := strings.ToLower(a.Val)
		switch a.Key {
		case "class", "id":
			for _, m := range widgetMarkers {
				if strings.Contains(v, m) {
					return "widget " + m
				}
			}
		case "src":
			if tok.Data != "iframe" && tok.Data != "script" {
				continue
			}
			for _, m := range frameMarkers {
				if strings.Contains(v, m) {
					return tok.Data + " " + m
				}
			}
		}
	}
	return ""
}

func matchPhrase(text string, phrases []string) string {
	lower := strings.ToLower(strings.Join(strings.Fields(text), " "))
	lower = strings.ReplaceAll(lower, "’", "'")
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return "text " + p
		}
	}
	return ""
}
