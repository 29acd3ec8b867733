// Package transcode wraps the media conversion capability: turning a
// video-like sticker (webm) into an animated gif.
package transcode

import "context"

// Transcoder converts the file at src into dst. The destination format is
// implied by the dst extension.
type Transcoder interface {
	Convert(ctx context.Context, src, dst string) error
}
