package downloader

import (
	"context"
	"errors"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
)

// ErrNotFound is returned when the downloader has no coordinator for an ID.
var ErrNotFound = errors.New("downloader not found")

// Downloader defines the operations required to manage a download's lifecycle.
//
// Control operations only signal the running transfer and return promptly;
// the resulting state changes are published as Events.
type Downloader interface {
	// Start begins transferring d. It must not block on network I/O.
	Start(ctx context.Context, d *data.Download) error
	Pause(ctx context.Context, d *data.Download) error
	Resume(ctx context.Context, d *data.Download) error
	// Cancel stops the transfer and removes partial data.
	Cancel(ctx context.Context, d *data.Download) error
	// Purge forgets the download and removes leftover partial data. The
	// completed file is kept. It must be idempotent.
	Purge(ctx context.Context, d *data.Download) error
	// Progress returns live progress for a download the downloader is
	// tracking. ok is false when it has no state for id.
	Progress(id string) (p data.Progress, ok bool)
}
