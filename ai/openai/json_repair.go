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

import "errors"

var errEmptyAnalysis = errors.New("analysis has neither title nor summary")

// repairJSON fixes mistakes small models make in JSON mode: a key missing
// its opening quote (`, summary":`) and a trailing comma before a closing
// brace or bracket. String contents are left untouched.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)
	inString := false

	for i := 0; i < len(in); i++ {
		ch := in[i]

		if inString {
			out = append(out, ch)
			switch ch {
			case '\\':
				if i+1 < len(in) {
					i++
					out = append(out, in[i])
				}
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			out = append(out, ch)

		case '{', ',':
			// A comma directly before } or ] is dropped.
			if ch == ',' {
				if next := skipSpace(in, i+1); next < len(in) && (in[next] == '}' || in[next] == ']') {
					continue
				}
			}
			out = append(out, ch)

			j := skipSpace(in, i+1)
			out = append(out, in[i+1:j]...)
			i = j - 1

			// An unquoted key runs up to `":`.
			k := j
			for k < len(in) && (isLetter(in[k]) || in[k] == '_') {
				k++
			}
			if k > j && k+1 < len(in) && in[k] == '"' && in[k+1] == ':' {
				out = append(out, '"')
				out = append(out, in[j:k]...)
				out = append(out, '"', ':')
				i = k + 1
			}

		default:
			out = append(out, ch)
		}
	}
	return string(out)
}

func skipSpace(s []rune, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\n' || s[i] == '\t' || s[i] == '\r') {
		i++
	}
	return i
}

// isLetter returns true if the rune is an ASCII letter.
func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
