package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxProfileFieldLength はプロフィール項目として保存する最大文字数。
const maxProfileFieldLength = 255

// ProfileSanitizer はIdPから受け取った表示名などをプレーンテキストに正規化する。
// bluemondayのStrictPolicyで全てのタグを除去する。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はタグを除去し、前後の空白を落として最大長に切り詰める。
// StrictPolicyがエスケープした実体参照は元の文字に戻す。
func (s *ProfileSanitizer) SanitizeText(raw string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > maxProfileFieldLength {
		runes := []rune(cleaned)
		cleaned = string(runes[:maxProfileFieldLength])
	}
	return cleaned
}
