package botstatus

import "strings"

// Keywords is the terminal and error vocabulary recognised on the last log
// line, most specific first. The first keyword contained in the line becomes
// the status, so "ERROR: Session ended" reports "Session ended".
var Keywords = []string{
	"Captcha/Code",
	"IP Config",
	"crashed after",
	"Session ended",
	"Breaking forever",
	"Manually stopped",
	"Stopped",
	"timeout of",
	"paused",
	"Error",
	"ERROR",
}

// StartMarker identifies the first line a bot writes.
const StartMarker = "Starting bot"

// PostMarker identifies an engagement line counted in PostCount.
const PostMarker = "Liked post"

// MatchKeyword returns the first keyword contained in line, or "".
func MatchKeyword(line string, keywords []string) string {
	for _, k := range keywords {
		if strings.Contains(line, k) {
			return k
		}
	}
	return ""
}
