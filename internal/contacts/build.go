package contacts

import "strings"

// escapeText escapes a vCard TEXT value per RFC 6350 section 3.4.
func escapeText(value string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\r\n", "\\n",
		"\n", "\\n",
	)
	return r.Replace(value)
}

// BuildCard renders a minimal vCard 3.0 document.
func BuildCard(uid string, in CardInput) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\r\n")
	b.WriteString("VERSION:3.0\r\n")
	b.WriteString("UID:" + uid + "\r\n")
	b.WriteString("FN:" + escapeText(in.FullName) + "\r\n")
	b.WriteString("N:" + structuredName(in.FullName) + "\r\n")
	if in.Email != "" {
		b.WriteString("EMAIL;TYPE=INTERNET:" + escapeText(in.Email) + "\r\n")
	}
	if in.Phone != "" {
		b.WriteString("TEL;TYPE=CELL:" + escapeText(in.Phone) + "\r\n")
	}
	b.WriteString("END:VCARD\r\n")
	return b.String()
}

// structuredName derives an N property from a display name: the final word
// becomes the family name, the rest the given name.
func structuredName(fullName string) string {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return ";;;;"
	case 1:
		return escapeText(parts[0]) + ";;;;"
	default:
		family := parts[len(parts)-1]
		given := strings.Join(parts[:len(parts)-1], " ")
		return escapeText(family) + ";" + escapeText(given) + ";;;"
	}
}
