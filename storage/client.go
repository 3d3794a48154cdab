package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"vidmigrate/internal"
	"vidmigrate/utils"
)

// Delete outcomes recorded in the worklist remote_deleted column
const (
	DeleteStatusDeleted  = "yes"
	DeleteStatusNotFound = "not_found"
)

// Client performs authenticated operations on one container
type Client struct {
	http      *utils.HTTPClient
	auth      *AuthManager
	container string
}

// NewClient creates a Client for container
func NewClient(httpClient *utils.HTTPClient, auth *AuthManager, container string) *Client {
	return &Client{
		http:      httpClient,
		auth:      auth,
		container: strings.Trim(container, "/"),
	}
}

// ObjectURL builds the authenticated address of objectPath under the session's endpoint
func (c *Client) ObjectURL(session *Session, objectPath string) string {
	objectPath = strings.TrimLeft(strings.TrimSpace(objectPath), "/")
	escaped := (&url.URL{Path: "/" + c.container + "/" + objectPath}).EscapedPath()
	return session.StorageURL + escaped
}

// DeleteObject removes objectPath from the container. It returns DeleteStatusDeleted or
// DeleteStatusNotFound; any other answer is an error. An expired token is renewed once.
func (c *Client) DeleteObject(ctx context.Context, objectPath string) (string, error) {
	if strings.Trim(strings.TrimSpace(objectPath), "/") == "" {
		return "", internal.NewInvalidInputError("object_path", "cannot be empty")
	}

	for attempt := 0; ; attempt++ {
		session, err := c.auth.Session(ctx)
		if err != nil {
			return "", err
		}

		target := c.ObjectURL(session, objectPath)
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
		if err != nil {
			return "", fmt.Errorf("failed to create delete request: %w", err)
		}
		req.Header.Set("X-Auth-Token", session.Token)

		resp, err := c.http.Do(req)
		if err != nil {
			return "", utils.ClassifyError(err, "delete")
		}

		switch resp.StatusCode {
		case http.StatusNoContent, http.StatusOK:
			resp.Body.Close()
			internal.LogDebug("Deleted %s", objectPath)
			return DeleteStatusDeleted, nil
		case http.StatusNotFound:
			resp.Body.Close()
			return DeleteStatusNotFound, nil
		case http.StatusUnauthorized:
			if attempt == 0 {
				resp.Body.Close()
				internal.LogWarn("Storage token rejected, re-authenticating")
				c.auth.Invalidate()
				continue
			}
		}
		if err := utils.ClassifyResponse(resp, "delete"); err != nil {
			return "", err
		}
		resp.Body.Close()
		return "", internal.NewFatalRemoteError(resp.StatusCode, fmt.Sprintf("delete: unexpected HTTP %d", resp.StatusCode))
	}
}
