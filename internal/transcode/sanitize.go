package transcode

import "strings"

var idReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	"?", "-",
	"=", "-",
	"&", "-",
	"#", "-",
)

// SanitizeID turns an output identifier into a safe file stem.
// Path separators and query characters become '-', so an identifier that
// looks like a URL or path can never escape the output directory.
func SanitizeID(id string) string {
	s := idReplacer.Replace(strings.TrimSpace(id))
	switch s {
	case "", ".", "..":
		return "unnamed"
	}
	return s
}
