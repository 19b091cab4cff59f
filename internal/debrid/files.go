// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"path"
	"strings"
)

var videoExtensions = map[string]struct{}{
	".mkv":  {},
	".mp4":  {},
	".avi":  {},
	".m4v":  {},
	".mov":  {},
	".wmv":  {},
	".webm": {},
	".ts":   {},
	".m2ts": {},
}

func isVideoFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	_, ok := videoExtensions[ext]
	return ok
}
