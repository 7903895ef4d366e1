package source

import (
	"context"
	"errors"
	"sync"
)

type prefetched struct {
	frame *Frame
	err   error
}

// Prefetch decodes frames ahead of the consumer into a bounded channel.
// The reader goroutine blocks when the channel is full.
type Prefetch struct {
	src    Source
	frames chan prefetched
	cancel context.CancelFunc
	wg     sync.WaitGroup
	last   error
}

// NewPrefetch starts reading src in the background with room for depth frames
func NewPrefetch(ctx context.Context, src Source, depth int) *Prefetch {
	if depth < 1 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Prefetch{
		src:    src,
		frames: make(chan prefetched, depth),
		cancel: cancel,
	}
	p.wg.Add(1)
	go p.run(ctx)
	return p
}

func (p *Prefetch) run(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.frames)

	for {
		frame, err := p.src.Next(ctx)
		select {
		case p.frames <- prefetched{frame: frame, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Next returns the next buffered frame
func (p *Prefetch) Next(ctx context.Context) (*Frame, error) {
	if p.last != nil {
		return nil, p.last
	}
	select {
	case item, ok := <-p.frames:
		if !ok {
			p.last = ErrEndOfStream
			return nil, p.last
		}
		if item.err != nil {
			p.last = item.err
			if errors.Is(item.err, context.Canceled) {
				p.last = ErrEndOfStream
			}
		}
		return item.frame, item.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the reader and closes the underlying source
func (p *Prefetch) Close() error {
	p.cancel()
	err := p.src.Close()
	p.wg.Wait()
	return err
}

var _ Source = (*Prefetch)(nil)
