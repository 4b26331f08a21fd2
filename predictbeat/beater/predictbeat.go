// Package beater реализует интерфейс Beater для Predictbeat (libbeat v7).
package beater

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/elastic/beats/v7/libbeat/beat"
	"github.com/elastic/beats/v7/libbeat/common"
	"github.com/elastic/beats/v7/libbeat/logp"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
	pkgconfig "github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/pkg/config"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/pkg/predictd"
)

// eventQueueSize — решения сверх очереди отбрасываются, контур не ждёт publisher
const eventQueueSize = 1024

// Predictbeat реализует beat.Beater.
type Predictbeat struct {
	done    chan struct{}
	config  *pkgconfig.Config
	client  beat.Client
	events  chan governor.Decision
	dropped atomic.Uint64
}

// New создаёт Beater из конфигурации Beat.
func New(b *beat.Beat, cfg *common.Config) (beat.Beater, error) {
	sub, err := cfg.Child("predictbeat", -1)
	if err != nil || sub == nil {
		return nil, fmt.Errorf("конфиг predictbeat не найден: %v", err)
	}
	config := *pkgconfig.Default()
	if err := sub.Unpack(&config); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфига predictbeat: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("конфиг predictbeat: %w", err)
	}
	return &Predictbeat{
		done:   make(chan struct{}),
		config: &config,
		events: make(chan governor.Decision, eventQueueSize),
	}, nil
}

// Run запускает governor до Stop() и публикует решения, в которых была запрошена смена частоты.
func (bt *Predictbeat) Run(b *beat.Beat) error {
	logp.Info("predictbeat запущен")
	client, err := b.Publisher.Connect()
	if err != nil {
		return err
	}
	bt.client = client

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-bt.done
		cancel()
	}()
	go bt.publish(ctx)

	err = predictd.RunDaemon(ctx, bt.config, predictd.Options{
		Quiet:    true,
		Version:  b.Info.Version,
		Observer: governor.ObserverFunc(bt.enqueue),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logp.Warn("predictd завершён: %v", err)
	}
	return nil
}

// Stop останавливает Run.
func (bt *Predictbeat) Stop() {
	if bt.client != nil {
		bt.client.Close()
	}
	close(bt.done)
}

func (bt *Predictbeat) enqueue(d governor.Decision) {
	if !d.Requested {
		return
	}
	select {
	case bt.events <- d:
	default:
		if n := bt.dropped.Add(1); n%100 == 1 {
			logp.Warn("очередь событий predictbeat переполнена, отброшено решений: %d", n)
		}
	}
}

func (bt *Predictbeat) publish(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-bt.events:
			bt.client.Publish(decisionEvent(d, time.Now()))
		}
	}
}

func decisionEvent(d governor.Decision, ts time.Time) beat.Event {
	return beat.Event{
		Timestamp: ts,
		Fields: common.MapStr{
			"type": "predictbeat",
			"cpu": common.MapStr{
				"id":          d.CPU,
				"utilization": d.Utilization,
				"predicted":   d.Predicted,
			},
			"frequency": common.MapStr{
				"target_khz": d.Target,
				"last_khz":   d.Frequency,
				"applied":    d.Applied,
			},
			"patterns": common.MapStr{
				"count":       d.Patterns,
				"reclustered": d.Reclustered,
			},
		},
	}
}
