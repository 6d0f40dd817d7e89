// internal/imaging/camera.go
package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"
)

type Facing string

const (
	FacingRear  Facing = "environment"
	FacingFront Facing = "user"
)

func (f Facing) Flip() Facing {
	if f == FacingFront {
		return FacingRear
	}
	return FacingFront
}

// Stream is a live video stream. Size reports zero dimensions until the first
// frame metadata is known. Stop releases every track and must be safe to call
// more than once.
type Stream interface {
	Size() (width, height int)
	Frame() (image.Image, error)
	Stop()
}

// Device acquires streams for a facing preference.
type Device interface {
	Open(ctx context.Context, facing Facing) (Stream, error)
}

var (
	ErrNotReady          = errors.New("camera is not ready")
	ErrCameraClosed      = errors.New("camera is closed")
	ErrCameraUnavailable = errors.New("unable to access camera")
)

// Camera owns at most one live stream. Every path out of capture (Close, a
// successful Capture, a failed or superseded Open) stops the stream it holds.
type Camera struct {
	device Device

	mu     sync.Mutex
	facing Facing
	stream Stream
	gen    uint64
	cancel context.CancelFunc
}

func NewCamera(device Device, facing Facing) *Camera {
	if facing == "" {
		facing = FacingRear
	}
	return &Camera{device: device, facing: facing}
}

// Open acquires a stream for the current facing mode, replacing any open one.
// A stream that arrives after Close or a newer Open is stopped immediately.
func (c *Camera) Open(ctx context.Context) error {
	c.mu.Lock()
	c.releaseLocked()
	c.gen++
	gen := c.gen
	facing := c.facing
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	stream, err := c.device.Open(ctx, facing)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		if stream != nil {
			stream.Stop()
		}
		return ErrCameraClosed
	}
	c.cancel = nil
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	c.stream = stream
	return nil
}

// Flip switches between rear and front cameras and reopens the stream.
func (c *Camera) Flip(ctx context.Context) error {
	c.mu.Lock()
	c.facing = c.facing.Flip()
	c.mu.Unlock()
	return c.Open(ctx)
}

func (c *Camera) Facing() Facing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.facing
}

// Ready reports whether a stream is open and reports non-zero dimensions.
func (c *Camera) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyLocked()
}

func (c *Camera) readyLocked() bool {
	if c.stream == nil {
		return false
	}
	w, h := c.stream.Size()
	return w > 0 && h > 0
}

// Capture grabs one frame, mirrors it for the front camera and compresses it.
// Before the stream is ready it does nothing and returns ErrNotReady. A
// successful capture closes the camera.
func (c *Camera) Capture() ([]byte, error) {
	c.mu.Lock()
	if !c.readyLocked() {
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	stream, gen, mirror := c.stream, c.gen, c.facing == FacingFront
	c.mu.Unlock()

	frame, err := stream.Frame()
	if err != nil {
		return nil, fmt.Errorf("failed to capture image: %w", err)
	}
	data, err := Compress(frame, mirror)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if gen == c.gen {
		c.releaseLocked()
		c.gen++
	}
	c.mu.Unlock()
	return data, nil
}

const readyPoll = 50 * time.Millisecond

// Shoot opens the camera, switching to facing first when it is set and
// differs, waits for the first frame and captures it. The camera is closed on
// every path.
func (c *Camera) Shoot(ctx context.Context, facing Facing) ([]byte, error) {
	defer c.Close()

	var err error
	if facing != "" && facing != c.Facing() {
		err = c.Flip(ctx)
	} else {
		err = c.Open(ctx)
	}
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(readyPoll)
	defer ticker.Stop()
	for !c.Ready() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-ticker.C:
		}
	}
	return c.Capture()
}

// Close stops the stream and abandons any acquisition in flight.
func (c *Camera) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
	c.gen++
}

func (c *Camera) releaseLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}
}
