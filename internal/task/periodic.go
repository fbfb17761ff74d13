package task

import (
	"context"
	"log/slog"
	"time"
)

// Func - тело периодической задачи. Тики не перекрываются.
type Func func(ctx context.Context)

// Periodic - задача, выполняемая с фиксированным периодом до отмены
type Periodic struct {
	name   string
	period time.Duration
	fn     Func
	logger *slog.Logger
}

// Handle - дескриптор запущенной задачи
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop отменяет задачу и ждёт завершения текущего тика
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done закрывается после остановки задачи
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// New создает периодическую задачу
func New(name string, period time.Duration, fn Func, logger *slog.Logger) *Periodic {
	return &Periodic{
		name:   name,
		period: period,
		fn:     fn,
		logger: logger,
	}
}

// Run выполняет задачу до отмены ctx
func (p *Periodic) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	p.logger.Info("Task started", slog.String("task", p.name), slog.Duration("period", p.period))
	defer p.logger.Info("Task stopped", slog.String("task", p.name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Start запускает задачу в отдельной горутине
func (p *Periodic) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		_ = p.Run(ctx)
	}()

	return h
}

func (p *Periodic) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked", slog.String("task", p.name), slog.Any("panic", r))
		}
	}()

	p.fn(ctx)
}
