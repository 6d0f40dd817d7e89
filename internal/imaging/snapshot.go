// internal/imaging/snapshot.go
package imaging

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"
)

// SnapshotDevice is a camera reached over HTTP: every frame is a GET of a still
// image endpoint, as exposed by most IP cameras (".../snapshot.jpg").
type SnapshotDevice struct {
	URL    string
	Client *http.Client
}

func NewSnapshotDevice(url string) *SnapshotDevice {
	return &SnapshotDevice{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Open fetches a first frame so that access problems surface here rather than
// at capture time. The facing mode only affects mirroring, which the caller does.
func (d *SnapshotDevice) Open(ctx context.Context, facing Facing) (Stream, error) {
	if d.URL == "" {
		return nil, fmt.Errorf("no snapshot url configured")
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	s := &snapshotStream{url: d.URL, client: d.Client, ctx: streamCtx, cancel: cancel}

	if _, err := s.fetch(ctx); err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

type snapshotStream struct {
	url    string
	client *http.Client
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	width   int
	height  int
	stopped bool
}

func (s *snapshotStream) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *snapshotStream) Frame() (image.Image, error) {
	return s.fetch(s.ctx)
}

func (s *snapshotStream) fetch(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, ErrCameraClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, ErrTooLarge
	}
	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	s.mu.Lock()
	s.width, s.height = b.Dx(), b.Dy()
	s.mu.Unlock()
	return img, nil
}

func (s *snapshotStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.width, s.height = 0, 0
	s.cancel()
	s.client.CloseIdleConnections()
}
