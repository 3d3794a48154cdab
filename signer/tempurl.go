// Package signer produces OpenStack Swift temporary URLs.
//
// A temp URL authorizes one HTTP method on one object until an expiry instant.
// The signature is HMAC-SHA1 over "METHOD\nEXPIRES\nPATH" keyed with the
// account's X-Account-Meta-Temp-URL-Key.
package signer

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"vidmigrate/internal"
)

// Sign computes a temp URL for path below baseStoragePath. It is deterministic in its
// inputs and never reads the wall clock. The returned SignedURL has an empty BaseURL;
// Generator fills it in.
func Sign(path, method, secretKey, baseStoragePath string, expiry time.Duration, now time.Time) (*internal.SignedURL, error) {
	if path == "" {
		return nil, internal.NewInvalidInputError("path", "object path cannot be empty")
	}
	if secretKey == "" {
		return nil, internal.NewInvalidInputError("key", "temp URL key cannot be empty")
	}
	if strings.TrimSpace(method) == "" {
		return nil, internal.NewInvalidInputError("method", "HTTP method cannot be empty")
	}
	if expiry < 0 {
		return nil, internal.NewInvalidInputError("expiry", fmt.Sprintf("expiry cannot be negative (%v)", expiry))
	}

	fullPath := FullPath(baseStoragePath, path)
	expires := now.Unix() + int64(expiry/time.Second)

	return &internal.SignedURL{
		Path:      fullPath,
		Signature: signature(secretKey, CanonicalString(method, expires, fullPath)),
		Expires:   expires,
	}, nil
}

// FullPath joins the storage base and an object path with exactly one separator
func FullPath(baseStoragePath, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(baseStoragePath, "/") + path
}

// CanonicalString is the message that gets authenticated
func CanonicalString(method string, expires int64, fullPath string) string {
	return fmt.Sprintf("%s\n%d\n%s", strings.ToUpper(strings.TrimSpace(method)), expires, fullPath)
}

func signature(key, message string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
