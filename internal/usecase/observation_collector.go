package usecase

import (
	"context"

	"RatingFlow/internal/domain/models"
	drepo "RatingFlow/internal/domain/repository"
	mid "RatingFlow/internal/middleware"
)

// ObservationCollector consumes the ratings feed and forwards observations.
type ObservationCollector struct {
	stream  drepo.ObservationStream
	proc    *ObservationProcessor
	metrics drepo.Metrics
	pipe    *mid.IngestPipeline
}

// NewObservationCollector creates a new ObservationCollector instance.
func NewObservationCollector(stream drepo.ObservationStream, proc *ObservationProcessor, metrics drepo.Metrics, pipe *mid.IngestPipeline) *ObservationCollector {
	return &ObservationCollector{stream: stream, proc: proc, metrics: metrics, pipe: pipe}
}

// IsConnected returns true if the ratings feed is connected.
func (c *ObservationCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *ObservationCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	recCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, recCh, errCh)
	return nil
}

func (c *ObservationCollector) consume(ctx context.Context, recCh <-chan *models.ObservationRecord, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				// read loop closed both channels; the record case handles restart
				errCh = nil
				continue
			}
			if err != nil {
				c.metrics.RecordError("stream")
				if rerr := c.stream.Reconnect(ctx); rerr == nil {
					recCh, errCh = c.stream.Read(ctx)
				}
			}
		case rec, ok := <-recCh:
			if !ok {
				if err := c.stream.Reconnect(ctx); err != nil {
					c.metrics.RecordError("stream_reconnect")
					return
				}
				recCh, errCh = c.stream.Read(ctx)
				continue
			}
			if rec == nil {
				continue
			}
			if c.pipe != nil {
				_ = c.pipe.Process(ctx, rec)
			} else {
				_ = c.proc.Process(ctx, rec)
			}
		}
	}
}

func (c *ObservationCollector) Stop() error { return c.stream.Close() }

// Processor returns the underlying ObservationProcessor for lifecycle management.
func (c *ObservationCollector) Processor() *ObservationProcessor { return c.proc }

// Shutdown stops the pipeline and closes the stream.
func (c *ObservationCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return c.stream.Close()
}
