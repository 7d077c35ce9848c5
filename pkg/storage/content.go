// Package storage holds the content-addressed storage clients used to pin
// project documents: a Pinata/IPFS client, an S3 mirror and an in-memory
// store for development.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrNotFound is returned by Fetch when no content is stored under a CID.
var ErrNotFound = errors.New("content not found")

// ContentStore uploads and fetches content by content identifier.
type ContentStore interface {
	Upload(ctx context.Context, name string, body io.Reader) (string, error)
	Fetch(ctx context.Context, contentID string) ([]byte, error)
}

// ComputeCID returns a CIDv0 over the sha2-256 digest of data. Stores that
// address content by digest use it as the content identifier. It is not the
// UnixFS CID an IPFS node would assign to the same file.
func ComputeCID(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("hash content: %w", err)
	}
	return cid.NewCidV0(mh), nil
}

// ParseCID validates a content identifier returned by a store.
func ParseCID(s string) (cid.Cid, error) {
	if s == "" {
		return cid.Undef, errors.New("empty content identifier")
	}
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("malformed content identifier %q: %w", s, err)
	}
	return c, nil
}
