package client

import (
	"context"
	"time"

	"github.com/ericfitz/sketchroom/canvas"
	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/ericfitz/sketchroom/protocol"
)

// emit runs a local canvas action and queues the event it produced. drawMu
// is held across both so events leave in sequence order.
func (c *Client) emit(ctx context.Context, action func() (*protocol.Envelope, error)) error {
	c.drawMu.Lock()
	defer c.drawMu.Unlock()

	env, err := action()
	if err != nil {
		return err
	}
	return c.enqueue(ctx, env)
}

// BeginStroke starts a stroke at p
func (c *Client) BeginStroke(ctx context.Context, p protocol.Point, hexColor string, width float64) error {
	return c.emit(ctx, func() (*protocol.Envelope, error) {
		return c.canvas.BeginStroke(p, hexColor, width)
	})
}

// ExtendStroke draws the current stroke on to p
func (c *Client) ExtendStroke(ctx context.Context, p protocol.Point) error {
	return c.emit(ctx, func() (*protocol.Envelope, error) {
		return c.canvas.ExtendStroke(p)
	})
}

// EndStroke finishes the current stroke
func (c *Client) EndStroke(ctx context.Context) error {
	return c.emit(ctx, c.canvas.EndStroke)
}

// Stroke draws a complete stroke through points
func (c *Client) Stroke(ctx context.Context, hexColor string, width float64, points ...protocol.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := c.BeginStroke(ctx, points[0], hexColor, width); err != nil {
		return err
	}
	for _, p := range points[1:] {
		if err := c.ExtendStroke(ctx, p); err != nil {
			return err
		}
	}
	return c.EndStroke(ctx)
}

// PlaceShape draws a shape
func (c *Client) PlaceShape(ctx context.Context, s protocol.ShapePayload) error {
	return c.emit(ctx, func() (*protocol.Envelope, error) {
		return c.canvas.PlaceShape(s)
	})
}

// MoveCursor reports the pointer position to the room
func (c *Client) MoveCursor(ctx context.Context, x, y float64) error {
	return c.emit(ctx, func() (*protocol.Envelope, error) {
		return c.canvas.MoveCursor(x, y)
	})
}

// Clear blanks the canvas for every member of the room
func (c *Client) Clear(ctx context.Context) error {
	return c.emit(ctx, c.canvas.Clear)
}

// Undo hides the most recent local operation. Only this client's image
// changes; the room sees the result through the next snapshot.
func (c *Client) Undo() bool {
	return c.canvas.Undo()
}

// Redo restores the most recently undone local operation
func (c *Client) Redo() bool {
	return c.canvas.Redo()
}

// PushSnapshot sends the current canvas as the next snapshot version. The
// version is one past the highest the client has seen, so a push from a
// member that missed a newer snapshot is refused by the server's cache.
func (c *Client) PushSnapshot(ctx context.Context) error {
	roomID := c.canvas.RoomID()
	if roomID == "" {
		return ErrNotJoined
	}

	rev := c.canvas.Revision()
	blob, err := c.canvas.EncodeSnapshot()
	if err != nil {
		return err
	}

	c.mu.Lock()
	version := c.lastKnown + 1
	c.lastKnown = version
	c.pushedRev = rev
	c.mu.Unlock()

	return c.enqueue(ctx, &protocol.Envelope{
		Op:      protocol.OpSnapshotPush,
		RoomID:  roomID,
		Blob:    blob,
		Version: version,
	})
}

// snapshotLoop pushes the canvas once it has changed and then stayed
// unchanged for a full idle period
func (c *Client) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.SnapshotIdle)
	defer ticker.Stop()

	var seen uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rev := c.canvas.Revision()
			c.mu.Lock()
			dirty := rev != c.pushedRev
			c.mu.Unlock()

			if dirty && rev == seen && c.canvas.State() == canvas.StateSynced {
				if err := c.PushSnapshot(ctx); err != nil && ctx.Err() == nil {
					slogging.Get().Warn("Idle snapshot push failed: %v", err)
				}
			}
			seen = rev
		}
	}
}
