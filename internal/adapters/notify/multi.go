package notify

// multi.go: fan-out to several publishers.
//
// Publishers run in parallel. Every publisher is tried and the errors are joined.

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alejandrodnm/disputebot/internal/domain"
	"github.com/alejandrodnm/disputebot/internal/ports"
)

// Multi implements ports.Publisher over a set of publishers.
type Multi struct {
	publishers []ports.Publisher
}

// NewMulti skips nil publishers.
func NewMulti(publishers ...ports.Publisher) *Multi {
	m := &Multi{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

func (m *Multi) PublishReport(ctx context.Context, r domain.Report) error {
	return m.each(func(p ports.Publisher) error { return p.PublishReport(ctx, r) })
}

func (m *Multi) PublishFailure(ctx context.Context, n domain.FailureNotice) error {
	return m.each(func(p ports.Publisher) error { return p.PublishFailure(ctx, n) })
}

func (m *Multi) each(fn func(ports.Publisher) error) error {
	errs := make([]error, len(m.publishers))

	var wg sync.WaitGroup
	for i, p := range m.publishers {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(p); err != nil {
				errs[i] = fmt.Errorf("publisher %d: %w", i, err)
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
