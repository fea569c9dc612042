package domain

import "strings"

// placeholderPrefix marks a video id recorded when the terminal upload
// response could not be parsed; such ids await reconciliation against
// the channel catalog.
const placeholderPrefix = "pending_"

// VideoIDKind distinguishes the three states a stored video id can be in.
type VideoIDKind int

const (
	VideoIDNone VideoIDKind = iota
	VideoIDPlaceholder
	VideoIDReal
)

// VideoID is a tagged video identifier: unset, a placeholder pending
// reconciliation, or a real YouTube-assigned id.
type VideoID struct {
	kind  VideoIDKind
	value string
}

// NoVideoID returns the unset identifier.
func NoVideoID() VideoID {
	return VideoID{}
}

// PlaceholderVideoID builds a placeholder identifier from a token,
// typically the session id of the interrupted upload.
func PlaceholderVideoID(token string) VideoID {
	return VideoID{kind: VideoIDPlaceholder, value: token}
}

// RealVideoID wraps a YouTube-assigned identifier. An empty id yields
// the unset value.
func RealVideoID(id string) VideoID {
	if id == "" {
		return VideoID{}
	}
	return VideoID{kind: VideoIDReal, value: id}
}

// ParseVideoID decodes the persisted string form.
func ParseVideoID(s string) VideoID {
	switch {
	case s == "":
		return VideoID{}
	case strings.HasPrefix(s, placeholderPrefix):
		return VideoID{kind: VideoIDPlaceholder, value: strings.TrimPrefix(s, placeholderPrefix)}
	default:
		return VideoID{kind: VideoIDReal, value: s}
	}
}

// Kind returns the identifier state.
func (v VideoID) Kind() VideoIDKind { return v.kind }

// IsReal reports whether the id was assigned by YouTube.
func (v VideoID) IsReal() bool { return v.kind == VideoIDReal }

// IsPlaceholder reports whether the id awaits reconciliation.
func (v VideoID) IsPlaceholder() bool { return v.kind == VideoIDPlaceholder }

// String returns the persisted form: empty, prefix-marked, or the raw id.
func (v VideoID) String() string {
	switch v.kind {
	case VideoIDPlaceholder:
		return placeholderPrefix + v.value
	case VideoIDReal:
		return v.value
	default:
		return ""
	}
}
