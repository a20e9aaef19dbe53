package media

import (
	"context"

	"github.com/talkincode/wagate/pkg/metrics"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"
)

// Downloader fetches and decrypts an attachment through the protocol connection.
type Downloader interface {
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// Pipeline turns an attachment into a durable URL.
type Pipeline struct {
	storage Storage
}

func NewPipeline(storage Storage) *Pipeline {
	return &Pipeline{storage: storage}
}

// Resolve downloads att and stores it. Any failure is logged and yields "".
func (p *Pipeline) Resolve(ctx context.Context, dl Downloader, messageID string, att whatsmeow.DownloadableMessage, mimeType string) string {
	if p == nil || p.storage == nil || dl == nil || att == nil {
		return ""
	}
	data, err := dl.Download(ctx, att)
	if err != nil {
		zap.L().Warn("media: download failed", zap.String("message_id", messageID), zap.Error(err))
		metrics.Incr("media_download_failed")
		return ""
	}
	name := FileName(messageID, mimeType, data)
	url, err := p.storage.Store(ctx, data, name)
	if err != nil {
		zap.L().Warn("media: store failed", zap.String("message_id", messageID), zap.String("file", name), zap.Error(err))
		metrics.Incr("media_store_failed")
		return ""
	}
	zap.L().Debug("media: stored", zap.String("message_id", messageID), zap.String("url", url), zap.Int("bytes", len(data)))
	return url
}
