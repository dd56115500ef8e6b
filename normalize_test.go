package scara_arm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		code  Code
		valid bool
	}{
		{"raw code", Request{Code: "c"}, CodePen, true},
		{"raw code with whitespace and case", Request{Code: " D\n"}, CodeEraser, true},
		{"invalid raw code", Request{Code: "z"}, Code("z"), false},
		{"empty request", Request{}, CodePlaceholder, false},
		{"placeholder without hint", Request{Code: "111"}, CodePlaceholder, false},
		{"reset keyword", Request{Code: "111", Hint: "请帮我复位"}, CodeHome, true},
		{"pen keyword", Request{Code: "111", Hint: "把笔收起来"}, CodePen, true},
		{"cleanup keyword", Request{Hint: "开始全面清理吧"}, CodeCleanup, true},
		{"eraser keyword", Request{Hint: "橡皮放回去"}, CodeEraser, true},
		{"paper keyword", Request{Hint: "收一下纸"}, CodePaper, true},
		{"sharpener resolves to pen", Request{Hint: "削笔刀"}, CodePen, true},
		{"later keyword overrides reset", Request{Hint: "复位然后收纸"}, CodePaper, true},
		{"cleanup beats pen", Request{Hint: "全面清理笔"}, CodeCleanup, true},
		{"hint without keyword keeps code", Request{Code: "e", Hint: "好的"}, CodeSharpener, true},
		{"unmatched hint stays placeholder", Request{Code: "111", Hint: "你好"}, CodePlaceholder, false},
		{"reset hint overrides raw code", Request{Code: "b", Hint: "复位"}, CodeHome, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := Normalize(tt.req)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.valid, ok)
		})
	}
}

func TestCodeLabel(t *testing.T) {
	l, ok := CodeSharpener.Label()
	assert.True(t, ok)
	assert.Equal(t, "sharpener", l)

	_, ok = CodeCleanup.Label()
	assert.False(t, ok)

	assert.Equal(t, "pick paper", CodePaper.String())
	assert.Equal(t, "home", CodeHome.String())
}
