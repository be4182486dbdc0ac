package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/models"
)

// Source is a stream of message change events. The websocket transport and
// the polling fallback both implement it, so the synchronizer handles their
// events identically.
type Source interface {
	// Subscribe starts the stream. The error channel reports a terminal
	// transport failure; after it fires no further events arrive.
	Subscribe(ctx context.Context) (<-chan models.ChatMessageEvent, <-chan error, error)
	Close() error
}

// MessageReader fetches message rows created after a watermark.
type MessageReader interface {
	MessagesSince(ctx context.Context, since time.Time, limit int) ([]models.ChatMessageRow, error)
}

// firstPollLookback is how far behind the first poll watermark starts, to
// cover messages that arrived while the realtime transport was dying.
const firstPollLookback = 20 * time.Second

// Poller is the fallback Source. It synthesizes insert events by fetching
// rows newer than a watermark on a fixed interval.
type Poller struct {
	reader   MessageReader
	interval time.Duration
	limit    int
	logger   *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	now func() time.Time
}

func NewPoller(reader MessageReader, interval time.Duration, limit int, logger *zap.Logger) *Poller {
	return &Poller{
		reader:   reader,
		interval: interval,
		limit:    limit,
		logger:   logger,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

func (p *Poller) Subscribe(ctx context.Context) (<-chan models.ChatMessageEvent, <-chan error, error) {
	events := make(chan models.ChatMessageEvent, 64)
	errs := make(chan error, 1)

	p.wg.Add(1)
	go p.run(ctx, events)

	return events, errs, nil
}

func (p *Poller) run(ctx context.Context, events chan<- models.ChatMessageEvent) {
	defer p.wg.Done()
	defer close(events)

	watermark := p.now().Add(-firstPollLookback)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// immediate first cycle, then on the ticker
	watermark = p.poll(ctx, watermark, events)

	for {
		select {
		case <-ticker.C:
			watermark = p.poll(ctx, watermark, events)
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		}
	}
}

// poll fetches rows newer than the watermark and emits them as insert
// events. The watermark always advances to the fetch time, even when no
// rows came back, so quiet periods are not re-fetched forever.
func (p *Poller) poll(ctx context.Context, watermark time.Time, events chan<- models.ChatMessageEvent) time.Time {
	fetchedAt := p.now()

	rows, err := p.reader.MessagesSince(ctx, watermark, p.limit)
	if err != nil {
		// Leave the watermark alone so the missed window is retried
		p.logger.Warn("Message poll failed", zap.Error(err))
		return watermark
	}

	for _, row := range rows {
		ev := models.ChatMessageEvent{
			Change:    models.ChangeInsert,
			MessageID: row.ID,
			ClientID:  row.ClientID,
			Direction: row.Direction,
			Preview:   row.Body,
			CreatedAt: row.CreatedAt,
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return watermark
		case <-p.stopChan:
			return watermark
		}
	}

	return fetchedAt
}

func (p *Poller) Close() error {
	p.once.Do(func() { close(p.stopChan) })
	p.wg.Wait()
	return nil
}
