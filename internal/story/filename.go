package story

import "time"

// Filename names a finished conversion after its completion time in t's
// location: story_YYYYMMDD_HHMMSS.jpg. Resolution is one second, so two
// conversions finishing within the same second share a name.
func Filename(t time.Time) string {
	return "story_" + t.Format("20060102_150405") + ".jpg"
}
