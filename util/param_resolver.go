package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRe = regexp.MustCompile("{(.*?)}")

// ResolveTemplate replaces every {$.path} token in text with the value found
// at that json path in data. Tokens that do not resolve are left untouched.
func ResolveTemplate(data map[string]any, text string) string {
	tokens := tokenRe.FindAllString(text, -1)
	for _, token := range tokens {
		path := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(path, "$") {
			continue
		}
		value, err := jsonpath.JsonPathLookup(data, path)
		if err != nil || value == nil {
			continue
		}
		text = strings.ReplaceAll(text, token, fmt.Sprintf("%v", value))
	}
	return text
}
