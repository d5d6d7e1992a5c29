/*
Copyright 2020 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package packages

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

// commandTemplate is a shell command with {0}, {} and {name} placeholders
// filled from the capture groups of a package name pattern.
// Literal braces are written as {{ and }}
type commandTemplate struct {
	raw   string
	parts []templatePart
}

type templatePart struct {
	literal string
	// field is the placeholder name or index if isField is set
	field   string
	isField bool
}

func parseTemplate(raw string) (*commandTemplate, error) {
	t := &commandTemplate{raw: raw}
	var literal bytes.Buffer
	auto, explicit := 0, false
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			if i+1 < len(raw) && raw[i+1] == '{' {
				literal.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(raw[i+1:], '}')
			if end < 0 {
				return nil, trace.BadParameter("unterminated placeholder in %q", raw)
			}
			field := raw[i+1 : i+1+end]
			if !fieldRe.MatchString(field) {
				return nil, trace.BadParameter("unsupported placeholder {%v} in %q", field, raw)
			}
			if field == "" {
				if explicit {
					return nil, trace.BadParameter("cannot mix automatic and explicit placeholders in %q", raw)
				}
				field = strconv.Itoa(auto)
				auto++
			} else if isIndex(field) {
				if auto > 0 {
					return nil, trace.BadParameter("cannot mix automatic and explicit placeholders in %q", raw)
				}
				explicit = true
			}
			if literal.Len() != 0 {
				t.parts = append(t.parts, templatePart{literal: literal.String()})
				literal.Reset()
			}
			t.parts = append(t.parts, templatePart{field: field, isField: true})
			i += end + 1
		case '}':
			if i+1 < len(raw) && raw[i+1] == '}' {
				literal.WriteByte('}')
				i++
				continue
			}
			return nil, trace.BadParameter("single '}' in %q", raw)
		default:
			literal.WriteByte(raw[i])
		}
	}
	if literal.Len() != 0 {
		t.parts = append(t.parts, templatePart{literal: literal.String()})
	}
	return t, nil
}

// checkPattern verifies that every placeholder is satisfied by a capture group of re
func (t *commandTemplate) checkPattern(re *regexp.Regexp) error {
	names := make(map[string]bool)
	for _, name := range re.SubexpNames() {
		if name != "" {
			names[name] = true
		}
	}
	for _, part := range t.parts {
		if !part.isField {
			continue
		}
		if isIndex(part.field) {
			index, _ := strconv.Atoi(part.field)
			if index >= re.NumSubexp() {
				return trace.BadParameter("placeholder {%v} in %q refers to a missing group of %q (%v groups)",
					part.field, t.raw, re.String(), re.NumSubexp())
			}
			continue
		}
		if !names[part.field] {
			return trace.BadParameter("placeholder {%v} in %q refers to a missing named group of %q",
				part.field, t.raw, re.String())
		}
	}
	return nil
}

// format fills the placeholders with the groups captured by re in match
func (t *commandTemplate) format(re *regexp.Regexp, match []string) string {
	var out bytes.Buffer
	for _, part := range t.parts {
		if !part.isField {
			out.WriteString(part.literal)
			continue
		}
		if isIndex(part.field) {
			index, _ := strconv.Atoi(part.field)
			out.WriteString(match[index+1])
			continue
		}
		out.WriteString(match[subexpIndex(re, part.field)])
	}
	return out.String()
}

func subexpIndex(re *regexp.Regexp, name string) int {
	for i, subexp := range re.SubexpNames() {
		if subexp == name {
			return i
		}
	}
	return -1
}

func isIndex(field string) bool {
	_, err := strconv.Atoi(field)
	return err == nil
}

var fieldRe = regexp.MustCompile(`^(\d+|[A-Za-z_][A-Za-z0-9_]*)?$`)
