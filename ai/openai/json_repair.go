// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package openai

import "strings"

// repairJSON fixes the malformed JSON small local models tend to emit:
// keys missing their opening quote (`{queries": [...]}`) and trailing
// commas before a closing bracket or brace.
func repairJSON(s string) string {
	src := []rune(s)
	out := make([]rune, 0, len(src)+8)
	inString := false

	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch {
		case inString:
			out = append(out, ch)
			if ch == '\\' && i+1 < len(src) {
				i++
				out = append(out, src[i])
			} else if ch == '"' {
				inString = false
			}
		case ch == '"':
			inString = true
			out = append(out, ch)
		case ch == '{' || ch == ',':
			out = append(out, ch)
			j := i + 1
			for j < len(src) && isSpace(src[j]) {
				j++
			}
			k := j
			for k < len(src) && (isLetter(src[k]) || src[k] == '_') {
				k++
			}
			// bare word followed by `":` is a key that lost its opening quote
			if k > j && k+1 < len(src) && src[k] == '"' && src[k+1] == ':' {
				out = append(out, src[i+1:j]...)
				out = append(out, '"')
				out = append(out, src[j:k+1]...)
				i = k
			}
		case ch == ']' || ch == '}':
			trimmed := strings.TrimRightFunc(string(out), isSpace)
			if strings.HasSuffix(trimmed, ",") {
				out = []rune(strings.TrimSuffix(trimmed, ","))
			}
			out = append(out, ch)
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
