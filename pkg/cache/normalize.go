package cache

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Volatile attributes the source rotates between renders. Stripping
// them before hashing keeps cosmetic re-renders from flagging change.
var volatileAttrPrefixes = []string{
	"nonce",
	"csrf",
	"data-csrf",
	"data-reactid",
	"data-timestamp",
	"data-build",
}

// NormalizeContent produces the canonical byte stream the content hash
// is computed over: comments gone, script/style bodies gone, volatile
// attributes gone, whitespace collapsed.
func NormalizeContent(raw []byte) []byte {
	var out bytes.Buffer
	z := html.NewTokenizer(bytes.NewReader(raw))

	skipDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return out.Bytes()
		case html.CommentToken:
			continue
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data == "script" || tok.Data == "style" {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			out.WriteByte('<')
			out.WriteString(tok.Data)
			for _, attr := range tok.Attr {
				if isVolatileAttr(attr.Key) {
					continue
				}
				out.WriteByte(' ')
				out.WriteString(attr.Key)
				out.WriteString(`="`)
				out.WriteString(attr.Val)
				out.WriteByte('"')
			}
			out.WriteByte('>')
		case html.EndTagToken:
			tok := z.Token()
			if tok.Data == "script" || tok.Data == "style" {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			out.WriteString("</")
			out.WriteString(tok.Data)
			out.WriteByte('>')
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text != "" {
				out.WriteString(text)
				out.WriteByte(' ')
			}
		}
	}
}

func isVolatileAttr(key string) bool {
	key = strings.ToLower(key)
	for _, p := range volatileAttrPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
