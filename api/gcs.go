package api

import (
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/googlegenomics/trackreader/sources/gcs"
	"github.com/googlegenomics/trackreader/sources/location"
)

// Opener opens the file at location on behalf of req.
type Opener func(req *http.Request, path string) (location.Source, error)

// NewOpener returns an Opener that opens locations with opts.
func NewOpener(opts location.Options) Opener {
	return func(req *http.Request, path string) (location.Source, error) {
		return location.Open(req.Context(), path, opts)
	}
}

// NewBearerTokenOpener returns an Opener that forwards the OAuth2 bearer token
// found in each request to storage and to remote servers, so that files are
// read with the caller's own credentials.
func NewBearerTokenOpener(opts location.Options) Opener {
	return func(req *http.Request, path string) (location.Source, error) {
		authorization := req.Header.Get("Authorization")
		fields := strings.Split(authorization, " ")
		if len(fields) != 2 || fields[0] != "Bearer" {
			return nil, gcs.ErrMissingOrInvalidToken
		}

		opts := opts
		if strings.HasPrefix(path, "gs://") {
			client, err := gcs.NewClientFromAuthorization(req.Context(), authorization)
			if err != nil {
				return nil, err
			}
			opts.Storage = client
		}
		opts.TokenSource = oauth2.StaticTokenSource(&oauth2.Token{
			TokenType:   fields[0],
			AccessToken: fields[1],
		})
		return location.Open(req.Context(), path, opts)
	}
}
