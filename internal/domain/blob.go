package domain

import (
	"context"
	"io"

	"github.com/ethereum/go-ethereum/common"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader checks and retrieves objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SettlementArchiver stores a permanent record of a settled market and its
// positions.
type SettlementArchiver interface {
	ArchiveMarket(ctx context.Context, market Market, positions []Position) (string, error)
}

// ArchiveKey returns the object prefix used for a market's archive.
func ArchiveKey(market common.Hash) string {
	return "markets/" + market.Hex()
}
