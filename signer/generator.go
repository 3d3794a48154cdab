package signer

import (
	"time"

	"vidmigrate/internal"
)

// Generator signs object paths of one container with a fixed key
type Generator struct {
	// Origin is scheme and host, e.g. https://storage101.lon3.clouddrive.com
	Origin string
	// BasePath is the account and container path, e.g. /v1/MossoCloudFS_x/videos
	BasePath string
	Key      string
	Expiry   time.Duration
	Clock    internal.Clock
}

// NewGenerator creates a Generator
func NewGenerator(origin, basePath, key string, expiry time.Duration, clock internal.Clock) *Generator {
	return &Generator{
		Origin:   origin,
		BasePath: basePath,
		Key:      key,
		Expiry:   expiry,
		Clock:    clock,
	}
}

// Sign authorizes method on objectPath for the generator's default expiry
func (g *Generator) Sign(method, objectPath string) (*internal.SignedURL, error) {
	return g.sign(method, objectPath, g.Expiry)
}

// SignRequest signs for an explicit expiration instant
func (g *Generator) SignRequest(req internal.SignatureRequest) (*internal.SignedURL, error) {
	expiry := req.Expires.Sub(g.Clock.Now())
	if expiry < 0 {
		return nil, internal.NewInvalidInputError("expires", "expiration is in the past")
	}
	return g.sign(req.Method, req.Path, expiry)
}

// URL is a convenience wrapper returning the rendered GET URL
func (g *Generator) URL(objectPath string) (string, error) {
	signed, err := g.Sign("GET", objectPath)
	if err != nil {
		return "", err
	}
	return signed.String(), nil
}

func (g *Generator) sign(method, objectPath string, expiry time.Duration) (*internal.SignedURL, error) {
	signed, err := Sign(objectPath, method, g.Key, g.BasePath, expiry, g.Clock.Now())
	if err != nil {
		return nil, err
	}
	signed.BaseURL = g.Origin
	internal.LogDebug("Signed %s %s, expires %d", method, signed.Path, signed.Expires)
	return signed, nil
}
