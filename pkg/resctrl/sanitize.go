/*
Copyright 2022.

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

package resctrl

import "strings"

// sanitizeLeaf turns an opaque pod UID into a filesystem-safe leaf name by
// keeping [A-Za-z0-9_-] and replacing every other byte with '_'. Only leaf
// names are sanitized — resctrl_root and group_prefix are trusted
// configuration, not sanitized here.
func sanitizeLeaf(podUID string) string {
	var b strings.Builder
	b.Grow(len(podUID))
	for i := 0; i < len(podUID); i++ {
		c := podUID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
