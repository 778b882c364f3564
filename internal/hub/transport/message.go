package transport

import (
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultDomain is the addressing domain appended to bare identifiers.
const DefaultDomain = "s.whatsapp.net"

// NormalizeJID converts a bare identifier into the transport's addressing
// form. Identifiers that already carry a domain are returned unchanged.
func NormalizeJID(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	return to + "@" + DefaultDomain
}

// BareNumber strips known addressing domains from a jid.
func BareNumber(jid string) string {
	jid = strings.TrimSuffix(jid, "@"+DefaultDomain)
	return strings.TrimSuffix(jid, "@c.us")
}

// textPaths is the extraction priority for inbound message payloads; the
// first present field wins.
var textPaths = []string{
	"conversation",
	"extendedTextMessage.text",
	"imageMessage.caption",
	"videoMessage.caption",
}

// ExtractText pulls the display text out of a raw JSON message payload.
// Returns the empty string when the message carries no extractable text;
// such messages are dropped by the session layer.
func ExtractText(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	for _, path := range textPaths {
		if v := gjson.GetBytes(content, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
