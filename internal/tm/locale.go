package tm

import "strings"

// CanonicalLocale converts a BCP 47 style locale code to the form used in
// field names: language and region/script subtags upper-cased and joined with
// '_'. Everything from the first singleton subtag (extensions, private use)
// is kept verbatim.
//
//	"en"                               -> "EN"
//	"es-419"                           -> "ES_419"
//	"de-DE-u-email-co-phonebk-x-linux" -> "DE_DE-u-email-co-phonebk-x-linux"
func CanonicalLocale(code string) string {
	code = strings.TrimSpace(code)
	var head []string
	ext := ""
	start := 0
	for i := 0; i <= len(code); i++ {
		if i < len(code) && code[i] != '-' && code[i] != '_' {
			continue
		}
		tok := code[start:i]
		if len(tok) == 1 && len(head) > 0 {
			ext = code[start:]
			break
		}
		if tok != "" {
			head = append(head, strings.ToUpper(tok))
		}
		start = i + 1
	}
	out := strings.Join(head, "_")
	if ext != "" {
		out += "-" + ext
	}
	return out
}

// LocaleTag is the reverse of CanonicalLocale: it lowercases the code and
// restores hyphens.
func LocaleTag(canonical string) string {
	return strings.ToLower(strings.ReplaceAll(canonical, "_", "-"))
}
