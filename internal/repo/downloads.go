package repo

import (
	"context"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
)

// DownloadRepo persists download records. Implementations return clones so
// callers can't mutate stored state.
type DownloadRepo interface {
	DownloadReader
	DownloadWriter
	DownloadFinder
}

type DownloadReader interface {
	// List returns every record ordered by creation time.
	List(ctx context.Context) (data.Downloads, error)
	Get(ctx context.Context, id string) (*data.Download, error)
}

type DownloadWriter interface {
	// Add stores d. An empty ID is replaced with a fresh UUID.
	Add(ctx context.Context, d *data.Download) (*data.Download, error)
	// Update applies mutate to the stored record under a per-record lock.
	// An error from mutate aborts the update and is returned as is.
	Update(ctx context.Context, id string, mutate func(*data.Download) error) (*data.Download, error)
	Delete(ctx context.Context, id string) error
}

// DownloadFinder looks records up by fp.Fingerprint(source, path).
type DownloadFinder interface {
	FindByFingerprint(ctx context.Context, fprint string) (data.Downloads, error)
}
