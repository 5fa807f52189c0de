package transcript

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-relay/internal/messaging"
	apperrors "github.com/spec-kit/ticket-relay/pkg/util"
)

// Method records how a transcript reached the requester.
type Method string

const (
	MethodUpload     Method = "upload"
	MethodPrivateDoc Method = "private_file"
)

// Delivery describes a successful transcript delivery.
type Delivery struct {
	Method Method
	URL    string
}

// Deliverer hands transcripts to requesters: upload first, then a direct file
// when the upload is unavailable and the document is small enough.
type Deliverer struct {
	sink     Sink
	platform messaging.Platform
	maxBytes int64
	logger   *zap.Logger
}

// NewDeliverer builds a deliverer. sink may be nil.
func NewDeliverer(sink Sink, platform messaging.Platform, maxBytes int64, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{sink: sink, platform: platform, maxBytes: maxBytes, logger: logger.Named("transcript")}
}

// Deliver sends artifact to requesterID. The returned error is always a
// DELIVERY_FAILED DomainError.
func (d *Deliverer) Deliver(ctx context.Context, artifact Artifact, requesterID string) (Delivery, error) {
	url, uploadErr := d.upload(ctx, artifact)
	if uploadErr == nil {
		content := fmt.Sprintf("Your ticket #%d has been closed. Transcript: %s", artifact.TicketID, url)
		if err := d.platform.SendPrivate(ctx, requesterID, messaging.OutgoingMessage{Content: content}); err != nil {
			d.logger.Warn("transcript link not delivered",
				zap.Int64("ticket_id", artifact.TicketID),
				zap.String("recipient_id", requesterID),
				zap.Error(err))
		}
		return Delivery{Method: MethodUpload, URL: url}, nil
	}

	d.logger.Warn("transcript upload failed; falling back to private file",
		zap.Int64("ticket_id", artifact.TicketID),
		zap.Error(uploadErr))

	if d.maxBytes > 0 && artifact.Size() > d.maxBytes {
		return Delivery{}, apperrors.NewDeliveryFailed(
			fmt.Sprintf("transcript of %d bytes exceeds private attachment limit", artifact.Size()), uploadErr)
	}
	msg := messaging.OutgoingMessage{
		Content: fmt.Sprintf("Your ticket #%d has been closed. The transcript is attached.", artifact.TicketID),
		Files:   []messaging.File{artifact.File()},
	}
	if err := d.platform.SendPrivate(ctx, requesterID, msg); err != nil {
		return Delivery{}, apperrors.NewDeliveryFailed("requester unreachable", err)
	}
	return Delivery{Method: MethodPrivateDoc}, nil
}

func (d *Deliverer) upload(ctx context.Context, artifact Artifact) (string, error) {
	if d.sink == nil {
		return "", ErrSinkNotConfigured
	}
	return d.sink.Upload(ctx, artifact)
}
