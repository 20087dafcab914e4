package gateway

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/objgw/objgw/internal/logger"
)

// WriteRequest is the in-flight upload held by a file handle's payload
// between the first Write and the Commit (or abort). Writes must be
// sequential; the buffered object is stored in one backend put at commit
// time.
type WriteRequest struct {
	fs     *Filesystem
	bucket string
	object string

	mu      sync.Mutex
	buf     bytes.Buffer
	nextOff int64
	done    bool
}

func newWriteRequest(fs *Filesystem, h *Handle) *WriteRequest {
	return &WriteRequest{
		fs:     fs,
		bucket: h.BucketName(),
		object: h.FullPath(1),
	}
}

// write appends data at off, which must equal the current end of the
// in-flight buffer.
func (w *WriteRequest) write(off int64, data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return 0, ErrStaleWrite
	}
	if off != w.nextOff {
		return 0, ErrStaleWrite
	}
	n, _ := w.buf.Write(data)
	w.nextOff += int64(n)
	return n, nil
}

// commit stores the buffered object through the engine. Idempotent after
// the first call.
func (w *WriteRequest) commit(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return w.nextOff, nil
	}
	logger.Debug("write commit %s (%d bytes)", makeURI(w.bucket, w.object), w.buf.Len())
	if err := w.fs.eng.PutObject(ctx, w.bucket, w.object,
		bytes.NewReader(w.buf.Bytes()), int64(w.buf.Len())); err != nil {
		return 0, err
	}
	w.done = true
	size := w.nextOff
	w.buf.Reset()
	return size, nil
}

// abort drops the buffered data without touching the backend. Called by
// handle reclamation for uploads orphaned by eviction or drain.
func (w *WriteRequest) abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done && w.buf.Len() > 0 {
		logger.Warn("aborting in-flight write %s (%d bytes dropped)",
			makeURI(w.bucket, w.object), w.buf.Len())
	}
	w.done = true
	w.buf.Reset()
}

// OpenFile sets the advisory open flag on a file handle. Returns ErrBusy
// when the handle is already open.
func (fs *Filesystem) OpenFile(h *Handle, modeFlags uint32) error {
	if !h.IsFile() {
		return ErrNotFile
	}
	return h.Open(modeFlags)
}

// Write buffers data for a file handle at off, creating the in-flight
// write request on first use. Offsets must be sequential; out-of-order
// writes fail with ErrStaleWrite.
func (fs *Filesystem) Write(ctx context.Context, h *Handle, off int64, data []byte) (int, error) {
	if err := fs.checkOpen(); err != nil {
		return 0, err
	}
	if !h.IsFile() {
		return 0, ErrNotFile
	}
	wr := h.writeRequest(func() *WriteRequest { return newWriteRequest(fs, h) })
	if wr == nil {
		return 0, ErrNotFile
	}
	n, err := wr.write(off, data)
	if err != nil {
		return 0, err
	}
	h.SetSize(uint64(off) + uint64(n))
	return n, nil
}

// Commit flushes a file handle's in-flight write to the backend and
// updates the attribute block. A create-pending handle with no buffered
// write commits an empty object so the creation becomes visible.
func (fs *Filesystem) Commit(ctx context.Context, h *Handle) error {
	if !h.IsFile() {
		return ErrNotFile
	}

	wr := h.writeRequest(nil)
	if wr == nil {
		if !h.Creating() {
			return nil
		}
		if err := fs.eng.PutObject(ctx, h.BucketName(), h.FullPath(1),
			bytes.NewReader(nil), 0); err != nil {
			return err
		}
		h.SetSize(0)
	} else {
		size, err := wr.commit(ctx)
		if err != nil {
			return err
		}
		h.SetSize(uint64(size))
		h.clearWriteRequest()
	}

	h.SetMtime(time.Now())
	h.clearCreate()
	return nil
}

// CloseFile commits any pending write and drops the advisory open flag.
func (fs *Filesystem) CloseFile(ctx context.Context, h *Handle) error {
	if !h.IsFile() {
		return ErrNotFile
	}
	err := fs.Commit(ctx, h)
	h.clearOpen()
	return err
}
