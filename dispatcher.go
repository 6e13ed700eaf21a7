package luckperms

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bergwerkLABS/LuckPerms/storage"
)

// saveRequest is one queued persistence write. The record is a snapshot
// taken at enqueue time; later mutations enqueue their own requests, so the
// last write for a subject always carries its newest state.
type saveRequest struct {
	collection string
	identifier string
	record     storage.SubjectRecord
}

// saveDispatcher drains persistence writes on a single goroutine. Writes
// are fire-and-forget from the mutating caller's point of view: failures
// are logged and counted, never surfaced to the mutation. A full queue
// drops the request (the next mutation of the subject re-enqueues its full
// state) rather than blocking the caller.
type saveDispatcher struct {
	store   storage.Store
	log     zerolog.Logger
	metrics *Metrics

	ch        chan saveRequest
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newSaveDispatcher(store storage.Store, log zerolog.Logger, metrics *Metrics, bufferSize int) *saveDispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	d := &saveDispatcher{
		store:   store,
		log:     log,
		metrics: metrics,
		ch:      make(chan saveRequest, bufferSize),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *saveDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case req := <-d.ch:
			d.save(req)
		case <-d.done:
			for {
				select {
				case req := <-d.ch:
					d.save(req)
				default:
					return
				}
			}
		}
	}
}

func (d *saveDispatcher) save(req saveRequest) {
	if err := d.store.Save(context.Background(), req.collection, req.identifier, req.record); err != nil {
		d.metrics.Inc(MetricSaveFailed)
		d.log.Error().Err(err).
			Str("collection", req.collection).
			Str("subject", req.identifier).
			Msg("subject save failed")
	}
}

func (d *saveDispatcher) enqueue(req saveRequest) {
	if d == nil {
		return
	}
	if d.closed.Load() {
		d.drop(req, "save queue closed, write dropped")
		return
	}
	select {
	case d.ch <- req:
		d.metrics.Inc(MetricSaveQueued)
	case <-d.done:
		d.drop(req, "save queue closed, write dropped")
	default:
		d.drop(req, "save queue full, write dropped")
	}
}

// drop accounts for a lost write. Every path that discards a request goes
// through here so the drop counter never under-reports.
func (d *saveDispatcher) drop(req saveRequest, msg string) {
	d.dropped.Add(1)
	d.metrics.Inc(MetricSaveDropped)
	d.log.Warn().
		Str("collection", req.collection).
		Str("subject", req.identifier).
		Msg(msg)
}

// Dropped returns the number of writes discarded without reaching storage,
// whether the queue was full or already closed.
func (d *saveDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Close stops accepting writes, drains the queue, and waits for the worker.
func (d *saveDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}
