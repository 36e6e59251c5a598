package asset

import (
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrUnsupportedScheme = errors.New("resource: unsupported scheme")

	httpClient = &http.Client{Timeout: 30 * time.Second}
)

// A Resource wraps a streamable local file, a remote http(s) file or an
// in-memory stream.
type Resource struct {
	io.ReadCloser
	url *url.URL

	// Absolute path for local files; empty for remote and in-memory resources.
	localPath string
}

// Returns the path or URL of this resource.
func (r *Resource) Path() string {
	return r.url.String()
}

// Returns the last path element of this resource.
func (r *Resource) Name() string {
	return filepath.Base(r.url.Path)
}

// Returns the absolute path to the resource file if this resource is backed
// by a local file or an empty string otherwise.
func (r *Resource) LocalPath() string {
	return r.localPath
}

// Returns true if the Resource is streamed over http/https.
func (r *Resource) IsRemote() bool {
	return r.url.Scheme != ""
}

// Open a resource. If relTo is specified and pathToResource is a relative path
// without a scheme, then the resource path is resolved against the directory
// of relTo. Both local paths and http/https URLs are supported.
//
// The caller must close the returned resource.
func NewResource(pathToResource string, relTo *Resource) (*Resource, error) {
	resURL, err := resolveURL(pathToResource, relTo)
	if err != nil {
		return nil, err
	}

	res := &Resource{url: resURL}
	switch resURL.Scheme {
	case "":
		res.localPath, err = filepath.Abs(filepath.Clean(resURL.Path))
		if err != nil {
			return nil, errors.Wrapf(err, "resource: could not detect abs path for %q", resURL.Path)
		}
		res.ReadCloser, err = os.Open(res.localPath)
		if err != nil {
			return nil, errors.Wrap(err, "resource")
		}
	case "http", "https":
		resp, err := httpClient.Get(resURL.String())
		if err != nil {
			return nil, errors.Wrapf(err, "resource: could not fetch %q", resURL.String())
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, errors.Errorf("resource: could not fetch %q: status %d", resURL.String(), resp.StatusCode)
		}
		res.ReadCloser = resp.Body
	default:
		return nil, errors.Wrapf(ErrUnsupportedScheme, "%q", resURL.Scheme)
	}

	return res, nil
}

// Build the URL for a resource path, optionally relative to another resource.
func resolveURL(pathToResource string, relTo *Resource) (*url.URL, error) {
	// Normalize windows path separators before parsing as a URL
	resURL, err := url.Parse(strings.Replace(pathToResource, `\`, `/`, -1))
	if err != nil {
		return nil, errors.Wrapf(err, "resource: invalid path %q", pathToResource)
	}

	if resURL.Scheme != "" || relTo == nil || filepath.IsAbs(resURL.Path) {
		return resURL, nil
	}

	// Relative to a remote resource: resolve against the parent URL
	if relTo.IsRemote() {
		return relTo.url.ResolveReference(resURL), nil
	}

	parentDir := filepath.Dir(relTo.url.Path)
	if relTo.localPath != "" {
		parentDir = filepath.Dir(relTo.localPath)
	}
	return &url.URL{Path: filepath.Join(parentDir, resURL.Path)}, nil
}

// Create an in-memory resource. Relative resources opened with the returned
// resource as their parent are resolved against the directory part of name.
func NewResourceFromStream(name string, source io.Reader) *Resource {
	resURL, err := url.Parse(name)
	if err != nil {
		resURL = &url.URL{Path: name}
	}
	return &Resource{
		ReadCloser: io.NopCloser(source),
		url:        resURL,
	}
}
