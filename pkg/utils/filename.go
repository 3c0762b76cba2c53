// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxFilenameComponentLength bounds a sanitized display name; participant
// display names are user controlled and can be arbitrarily long.
const MaxFilenameComponentLength = 32

// SanitizeFilename maps an arbitrary display name onto a safe filename
// alphabet: ASCII letters, digits, '.', '_' and '-'. Every other rune becomes
// '_'. The result is length-bounded and never empty.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= MaxFilenameComponentLength {
			break
		}
	}
	sanitized := strings.Trim(b.String(), "._")
	if sanitized == "" {
		return "unknown"
	}
	return sanitized
}

// UniquePath returns dir/base+ext, suffixing base with an incrementing
// counter ("base_1", "base_2", …) until the path neither exists on disk nor
// appears in reserved. Reserved tracks paths already promised to other tracks
// whose encoder may not have created the file yet.
func UniquePath(dir, base, ext string, reserved map[string]struct{}) string {
	candidate := filepath.Join(dir, base+ext)
	for counter := 1; ; counter++ {
		_, statErr := os.Stat(candidate)
		_, taken := reserved[candidate]
		if os.IsNotExist(statErr) && !taken {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, counter, ext))
	}
}
