package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindsprite/mindsprite/internal/core"
)

func TestClean_Accepts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain chinese", "我明天有面试，好紧张", "我明天有面试，好紧张"},
		{"collapses whitespace", "  今天   好累\n\n\t真的 ", "今天 好累 真的"},
		{"escapes brackets and ampersands", "a < b & c > d", "a &lt; b &amp; c &gt; d"},
		{"keeps quotes", `他说"没关系"，it's fine`, `他说"没关系"，it's fine`},
		{"strips tags keeps text", "<b>今天真的很开心啊朋友们</b>", "今天真的很开心啊朋友们"},
		{"removes controls", "hello\x00 wor\x07ld\x7f", "hello world"},
		{"strips url scheme", "javascript:void(0) 看看这个链接好不好玩", "void(0) 看看这个链接好不好玩"},
		{"strips sql signature", "我想问问 UNION SELECT 是什么意思呀朋友", "我想问问 是什么意思呀朋友"},
		{"nfc", "cafe\u0301 au lait", "caf\u00e9 au lait"},
		{"collapses full-width spaces", "今天\u3000\u3000\u3000好累", "今天 好累"},
		{"mixed spaces", "好\u3000 \u00a0\t累", "好 累"},
		{"escapes count as one character", "<i></i>& & & & 还好", "&amp; &amp; &amp; &amp; 还好"},
	}

	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Clean(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClean_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"script only", "<script>alert(1)</script>"},
		{"empty", ""},
		{"whitespace only", " \t\n  "},
		{"too long", strings.Repeat("好", MaxRunes+1)},
		{"mostly markup", "<div><span><b>嗨</b></span></div>"},
		{"controls only", "\x01\x02\x03"},
		{"invalid utf8", "\xff\xfe"},
		{"escaped remainder", "<i></i><i></i><i></i><i></i>& & & &"},
		{"escaped brackets remainder", "<b></b><b></b><b></b><b></b>< < < <"},
	}

	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Clean(tt.in)
			assert.ErrorIs(t, err, core.ErrInvalidInput)
			assert.Equal(t, core.KindInvalidInput, core.KindOf(err))
		})
	}
}

func TestClean_LengthBoundary(t *testing.T) {
	s := New()

	got, err := s.Clean(strings.Repeat("好", MaxRunes))
	require.NoError(t, err)
	assert.Len(t, []rune(got), MaxRunes)

	// Combining marks compose under NFC, so this fits after normalization
	composed := strings.Repeat("e\u0301", MaxRunes)
	_, err = s.Clean(composed)
	assert.NoError(t, err)
}

func TestClean_Idempotent(t *testing.T) {
	s := New()
	inputs := []string{
		"我明天有面试，好紧张",
		"a < b",
		"  多个   空格  ",
	}

	for _, in := range inputs {
		once, err := s.Clean(in)
		require.NoError(t, err)
		if strings.ContainsAny(once, "&") {
			continue
		}
		twice, err := s.Clean(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}
