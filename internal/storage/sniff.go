package storage

import (
	"bytes"
	"net/http"
)

// Extension picks a file extension from the artifact's leading bytes,
// falling back to .png for images and .mp3 for audio.
func Extension(data []byte, kind Kind) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "audio/wave":
		return ".wav"
	case "application/ogg", "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	}
	// MPEG audio frames without an ID3 tag start with an 11-bit sync word.
	if kind == KindAudio {
		if len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
			return ".mp3"
		}
		if bytes.HasPrefix(data, []byte("fLaC")) {
			return ".flac"
		}
		return ".mp3"
	}
	return ".png"
}
