package logger

import (
	"regexp"
	"strings"
)

// addressKeys are the field names the dispatcher uses for a recipient
// address. Their whole value is masked.
var addressKeys = map[string]bool{
	"recipient": true,
	"email":     true,
	"to":        true,
}

var addressPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// redactField masks recipient addresses in one log field when redaction is
// on. Address fields are masked whole; any other field (provider errors,
// run messages) has the addresses inside it masked. Ids pass through.
func redactField(key, val string) string {
	if addressKeys[strings.ToLower(key)] && strings.Contains(val, "@") {
		return RedactEmail(val)
	}
	return addressPattern.ReplaceAllStringFunc(val, RedactEmail)
}

// RedactEmail keeps the first character of the local part and the whole
// domain, so per-provider and per-domain failures stay readable:
// "john.doe@example.com" becomes "j***@example.com". Anything without a
// local part and a domain becomes "***".
func RedactEmail(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}
