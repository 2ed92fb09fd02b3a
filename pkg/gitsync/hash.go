package gitsync

import (
	"unicode/utf16"

	"jukeboxd/pkg/githost"
)

// LegacyHash is the order-dependent 32-bit string hash used by earlier
// releases for change detection: h = h*31 + c over UTF-16 code units,
// wrapping on overflow. Distinct contents can collide.
func LegacyHash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	return h
}

// changed reports whether content differs from the remote file.
func changed(mode string, remote githost.File, content string) bool {
	if mode == modeLegacy {
		return LegacyHash(string(remote.Content)) != LegacyHash(content)
	}
	remoteSHA := remote.SHA
	if remoteSHA == "" {
		remoteSHA = githost.BlobSHA(remote.Content)
	}
	return remoteSHA != githost.BlobSHA([]byte(content))
}
