package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ChiefWoods/prediction/internal/domain"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeJSONL = "application/x-ndjson"
)

// Archiver implements domain.SettlementArchiver. A settled market is stored
// under markets/<address>/ as market.json plus positions.jsonl.
type Archiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	partSize int64
}

// NewArchiver creates an Archiver. partSize tunes multipart uploads of the
// positions file.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, partSize int64) *Archiver {
	return &Archiver{writer: writer, reader: reader, partSize: partSize}
}

// ArchiveMarket uploads the final state of market and its positions and
// returns the archive prefix. Only settled markets are archived, and a
// market already archived is left untouched.
func (a *Archiver) ArchiveMarket(ctx context.Context, market domain.Market, positions []domain.Position) (string, error) {
	if !market.State.Settled() {
		return "", fmt.Errorf("s3blob: archive %s: %w", market.Address, domain.ErrMarketNotSettled)
	}
	prefix := domain.ArchiveKey(market.Address)
	marketPath := prefix + "/market.json"

	exists, err := a.reader.Exists(ctx, marketPath)
	if err != nil {
		return "", err
	}
	if exists {
		return prefix, nil
	}

	// Positions go first so that market.json marks a complete archive.
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeJSONL(pw, positions))
	}()
	if err := a.writer.PutMultipart(ctx, prefix+"/positions.jsonl", pr, a.partSize); err != nil {
		_ = pr.CloseWithError(err)
		return "", fmt.Errorf("s3blob: archive positions: %w", err)
	}

	body, err := json.MarshalIndent(market, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal market: %w", err)
	}
	if err := a.writer.Put(ctx, marketPath, bytes.NewReader(body), contentTypeJSON); err != nil {
		return "", fmt.Errorf("s3blob: archive market: %w", err)
	}
	return prefix, nil
}

// writeJSONL writes one compact JSON document per line.
func writeJSONL[T any](w io.Writer, records []T) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return nil
}

var _ domain.SettlementArchiver = (*Archiver)(nil)
