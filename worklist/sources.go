package worklist

import (
	"context"

	"vidmigrate/internal"
	"vidmigrate/storage"
	"vidmigrate/utils"
)

// URLSigner authorizes GET access to an object path in the container
type URLSigner interface {
	URL(objectPath string) (string, error)
}

// HTTPSources opens ranged HTTP sources for locators. Objects inside the container get a
// fresh temp URL per chunk; anything else is fetched as given.
type HTTPSources struct {
	Client *utils.HTTPClient
	Signer URLSigner
}

// Open returns a source for loc and its size, internal.SizeUnknown when the server does not say
func (h *HTTPSources) Open(ctx context.Context, loc *utils.Locator) (internal.Source, int64, error) {
	urlFor := storage.StaticURL(loc.URL)
	if !loc.External() && h.Signer != nil {
		objectPath := loc.ObjectPath
		urlFor = func() (string, error) { return h.Signer.URL(objectPath) }
	}

	src := storage.NewRangeSource(h.Client, urlFor)
	size, err := src.Size(ctx)
	if err != nil {
		switch kind, _ := internal.KindOf(err); kind {
		case internal.ErrNotFound, internal.ErrAuthRequired, internal.ErrCancelled:
			return nil, internal.SizeUnknown, err
		}
		internal.LogWarn("Could not determine size of %s: %v", loc.FileName, err)
		size = internal.SizeUnknown
	}
	return src, size, nil
}
