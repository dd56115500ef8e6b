package scara_arm

import (
	"strings"
)

// Code is a canonical command understood by the dispatcher.
type Code string

const (
	CodeHome      Code = "a"
	CodeCleanup   Code = "b"
	CodePen       Code = "c"
	CodeEraser    Code = "d"
	CodeSharpener Code = "e"
	CodePaper     Code = "f"

	// CodePlaceholder is sent by sources that only carry a hint. On its own it does nothing.
	CodePlaceholder Code = "111"

	// CodeManual marks the dispatcher busy with a direct move, such as a gripper
	// component call. It can't be submitted.
	CodeManual Code = "manual"
)

// pickLabels maps the single-object codes to detection labels.
var pickLabels = map[Code]string{
	CodePen:       "pen",
	CodeEraser:    "eraser",
	CodeSharpener: "sharpener",
	CodePaper:     "paper",
}

func (c Code) Valid() bool {
	switch c {
	case CodeHome, CodeCleanup, CodePen, CodeEraser, CodeSharpener, CodePaper:
		return true
	}
	return false
}

// Label returns the object label a pick code targets.
func (c Code) Label() (string, bool) {
	l, ok := pickLabels[c]
	return l, ok
}

// CodeForLabel returns the pick code that targets label.
func CodeForLabel(label string) (Code, bool) {
	for c, l := range pickLabels {
		if l == label {
			return c, true
		}
	}
	return "", false
}

func (c Code) String() string {
	switch c {
	case CodeHome:
		return "home"
	case CodeCleanup:
		return "cleanup"
	case CodePlaceholder:
		return "placeholder"
	case CodeManual:
		return "manual move"
	}
	if l, ok := c.Label(); ok {
		return "pick " + l
	}
	return "invalid(" + string(c) + ")"
}

// Request is a raw command from one of the sources: a code, a free text hint, or both.
type Request struct {
	Code   string `json:"code,omitempty"`
	Hint   string `json:"hint,omitempty"`
	Source string `json:"source,omitempty"`
}

type keywordRule struct {
	keyword string
	code    Code
}

// resetRule is checked on its own before the rule chain, so any later match wins over it.
var resetRule = keywordRule{"复位", CodeHome}

// keywordRules are checked in order and the first match wins. "削笔刀" contains "笔",
// so it resolves to the pen code before its own rule is reached.
var keywordRules = []keywordRule{
	{"全面清理", CodeCleanup},
	{"笔", CodePen},
	{"橡皮", CodeEraser},
	{"削笔刀", CodeSharpener},
	{"纸", CodePaper},
}

// Normalize resolves a request to a canonical code. The boolean is false when the
// request does not name a command and should be dropped.
func Normalize(req Request) (Code, bool) {
	code := Code(strings.ToLower(strings.TrimSpace(req.Code)))
	if code == "" {
		code = CodePlaceholder
	}

	// A hint keyword overrides the raw code, so {b, "复位"} is home. The fall
	// through is intended.
	if req.Hint != "" {
		if strings.Contains(req.Hint, resetRule.keyword) || code == resetRule.code {
			code = resetRule.code
		}
		for _, r := range keywordRules {
			if strings.Contains(req.Hint, r.keyword) || code == r.code {
				code = r.code
				break
			}
		}
	}

	return code, code.Valid()
}
