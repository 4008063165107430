package utils

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatFileSize renders a byte count in base-1024 units with at most two decimals,
// e.g. 1536 -> "1.5 KB", 0 -> "0 B".
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	i := 0
	v := float64(bytes)
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}
	// Round to two decimals then drop trailing zeros.
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}

// ASCIIFilename folds a display name into ASCII that is safe inside a quoted
// header parameter. Accents are stripped; other non-printable or quoting
// characters become '_'.
func ASCIIFilename(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('_')
		case r < 0x20 || r > 0x7e:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

// ContentDisposition builds `<disposition>; filename="<name>"`. Names that do not
// survive ASCII folding unchanged also get an RFC 5987 filename* parameter.
func ContentDisposition(disposition, name string) string {
	ascii := ASCIIFilename(name)
	header := disposition + `; filename="` + ascii + `"`
	if ascii != name && name != "" {
		header += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return header
}
