package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeJID(t *testing.T) {
	assert.Equal(t, "5511999999999@s.whatsapp.net", NormalizeJID("5511999999999"))
	assert.Equal(t, "5511999999999@s.whatsapp.net", NormalizeJID("5511999999999@s.whatsapp.net"))
	assert.Equal(t, "5511999999999@c.us", NormalizeJID("5511999999999@c.us"))
}

func TestBareNumber(t *testing.T) {
	assert.Equal(t, "5511999999999", BareNumber("5511999999999@s.whatsapp.net"))
	assert.Equal(t, "5511999999999", BareNumber("5511999999999@c.us"))
	assert.Equal(t, "5511999999999", BareNumber("5511999999999"))
}

func TestExtractTextPriority(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain text", `{"conversation":"hello"}`, "hello"},
		{"extended text", `{"extendedTextMessage":{"text":"quoted reply"}}`, "quoted reply"},
		{"image caption", `{"imageMessage":{"caption":"look at this"}}`, "look at this"},
		{"video caption", `{"videoMessage":{"caption":"watch this"}}`, "watch this"},
		{"plain text wins over caption", `{"conversation":"first","imageMessage":{"caption":"second"}}`, "first"},
		{"extended wins over image", `{"extendedTextMessage":{"text":"first"},"imageMessage":{"caption":"second"}}`, "first"},
		{"no extractable text", `{"stickerMessage":{"url":"https://example.com/s.webp"}}`, ""},
		{"empty payload", ``, ""},
		{"empty caption skipped", `{"imageMessage":{"caption":""},"videoMessage":{"caption":"fallback"}}`, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText([]byte(tt.content)))
		})
	}
}
