// Package archive fans ingested documents out to cold storage so the
// retrieval stores are never the only copy of tenant content.
package archive

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/astroline/platform/gateway/internal/retrieval"
)

// Sink copies an ingested document to an external target (cloud/object
// store/etc).
type Sink interface {
	Name() string
	Store(ctx context.Context, doc retrieval.Document, payload []byte) error
}

// LoadFromEnv instantiates sinks declared in the ARCHIVE_SINKS env variable.
func LoadFromEnv(ctx context.Context, logger zerolog.Logger) []Sink {
	raw := os.Getenv("ARCHIVE_SINKS")
	if raw == "" {
		return nil
	}
	var instances []Sink
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(strings.ToLower(token))
		if token == "" {
			continue
		}
		var (
			sink Sink
			err  error
		)
		switch token {
		case "s3":
			sink, err = NewS3Sink(ctx)
		case "azure":
			sink, err = NewAzureBlobSink(ctx)
		case "sftp":
			sink, err = NewSFTPSink()
		case "ftps":
			sink, err = NewFTPSSink()
		default:
			err = fmt.Errorf("unknown archive sink %q", token)
		}
		if err != nil {
			logger.Error().Err(err).Str("sink", token).Msg("failed to init archive sink")
			continue
		}
		logger.Info().Str("sink", sink.Name()).Msg("initialized archive sink")
		instances = append(instances, sink)
	}
	return instances
}

// StoreAll writes the document to every sink, logging failures without
// surfacing them. Archival is best effort and never blocks ingest.
func StoreAll(ctx context.Context, sinks []Sink, doc retrieval.Document, payload []byte, logger zerolog.Logger) {
	for _, sink := range sinks {
		if err := sink.Store(ctx, doc, payload); err != nil {
			logger.Warn().
				Err(err).
				Str("sink", sink.Name()).
				Str("doc_id", doc.ID).
				Str("tenant", doc.Tenant).
				Msg("archive store failed")
		}
	}
}
