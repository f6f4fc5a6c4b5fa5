package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/fp"
)

type InMemoryDownloadRepo struct {
	mu        sync.RWMutex
	downloads map[string]*data.Download
	order     []string
}

func NewInMemoryDownloadRepo() *InMemoryDownloadRepo {
	return &InMemoryDownloadRepo{
		downloads: make(map[string]*data.Download),
	}
}

func (r *InMemoryDownloadRepo) List(ctx context.Context) (data.Downloads, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(data.Downloads, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.downloads[id].Clone())
	}
	return out, nil
}

func (r *InMemoryDownloadRepo) Get(ctx context.Context, id string) (*data.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dl, ok := r.downloads[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return dl.Clone(), nil
}

func (r *InMemoryDownloadRepo) Add(ctx context.Context, d *data.Download) (*data.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := d.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, ok := r.downloads[stored.ID]; ok {
		return nil, data.ErrConflict
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	r.downloads[stored.ID] = stored
	r.order = append(r.order, stored.ID)
	return stored.Clone(), nil
}

func (r *InMemoryDownloadRepo) Update(ctx context.Context, id string, mutate func(*data.Download) error) (*data.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.downloads[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	// ID and creation time are immutable.
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	r.downloads[id] = next
	return next.Clone(), nil
}

func (r *InMemoryDownloadRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.downloads[id]; !ok {
		return data.ErrNotFound
	}
	delete(r.downloads, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *InMemoryDownloadRepo) FindByFingerprint(ctx context.Context, fprint string) (data.Downloads, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out data.Downloads
	for _, id := range r.order {
		dl := r.downloads[id]
		if fp.Fingerprint(dl.Source, dl.Path()) == fprint {
			out = append(out, dl.Clone())
		}
	}
	return out, nil
}
