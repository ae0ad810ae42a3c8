// Package upload moves sliced print jobs onto printers, over the LAN as a
// single multipart POST and through the cloud as a two-phase
// request-then-PUT handshake.
package upload

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/printnest/printnest/internal/transport"
)

// ErrBusy is returned when a device already has an upload in flight.
// Callers surface it to the user instead of queuing a second job.
var ErrBusy = &transport.Error{
	Kind:   transport.KindBlocked,
	Detail: "an upload is already in progress for this printer",
}

// Job is one sliced payload ready to send.
type Job struct {
	Name        string // file name shown in the printer's queue
	Owner       string
	Payload     []byte
	ContentType string // "text/x-gcode" or "application/x-ufp"

	// RequirePrinterName pins the job to one printer in the group.
	// Empty means any compatible printer may take it.
	RequirePrinterName string
}

// gate is a per-device upload latch. Upload methods hold it for their
// whole duration so a device never runs two uploads at once.
type gate struct {
	busy atomic.Bool
}

func (g *gate) acquire() bool { return g.busy.CompareAndSwap(false, true) }
func (g *gate) release()      { g.busy.Store(false) }

// canceled reports whether err stems from the caller aborting the upload.
// Aborts are not failures and are not reported as such.
func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
