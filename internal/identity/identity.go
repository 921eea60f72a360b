// Package identity supplies the current viewer's identity to the pipeline.
// The pipeline never signs or publishes on its own; it only needs to know
// who is looking so viewer-interaction flags can be computed.
package identity

// Provider reports the current viewer's pubkey. An empty string means no
// authenticated viewer; callers must degrade (flags false), never fail.
type Provider interface {
	ViewerID() string
}

// Static is a fixed-identity provider, configured at startup or absent.
type Static struct {
	pubkey string
}

func NewStatic(pubkey string) *Static {
	return &Static{pubkey: pubkey}
}

func (s *Static) ViewerID() string {
	if s == nil {
		return ""
	}
	return s.pubkey
}

var _ Provider = (*Static)(nil)
