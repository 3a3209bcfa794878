package ports

import (
	"context"

	"github.com/alejandrodnm/disputebot/internal/domain"
)

// Publisher delivers resolution outcomes to the chat interface.
type Publisher interface {
	// PublishReport announces the payouts of a resolved dispute.
	PublishReport(ctx context.Context, report domain.Report) error

	// PublishFailure announces that a resolution attempt failed and the dispute was kept.
	PublishFailure(ctx context.Context, notice domain.FailureNotice) error
}
