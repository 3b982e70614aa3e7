package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arbwatch/internal/aggregator"
	"arbwatch/internal/alerting"
	"arbwatch/internal/fetcher"
	"arbwatch/internal/service"
)

// SimulateOptions 描述一次模拟的价差。
type SimulateOptions struct {
	Instrument string
	BuyPrice   float64
	SellPrice  float64
}

// SimulateAlert 用两个静态数据源构造价差，执行一次检测周期并推送告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if opts.BuyPrice <= 0 || opts.SellPrice <= opts.BuyPrice {
		return errors.New("卖出价必须高于买入价且均大于 0")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	book, err := a.newBook()
	if err != nil {
		return err
	}
	if book.Len() == 0 {
		cond := alerting.DefaultCondition()
		cond.Name = "simulated"
		if _, err := book.Add(cond); err != nil {
			return err
		}
	}

	reg := aggregator.New(aggregator.Options{Instruments: []string{opts.Instrument}}, a.Logger)
	buy := fetcher.NewStaticSource("sim-buy", map[string]fetcher.Quote{
		opts.Instrument: {Bid: opts.BuyPrice * 0.999, Ask: opts.BuyPrice},
	}, a.Logger)
	sell := fetcher.NewStaticSource("sim-sell", map[string]fetcher.Quote{
		opts.Instrument: {Bid: opts.SellPrice, Ask: opts.SellPrice * 1.001},
	}, a.Logger)
	for _, src := range []fetcher.Source{buy, sell} {
		if err := reg.Register(src); err != nil {
			return err
		}
	}
	reg.Initialize(ctx)

	svc := service.New(a.Config, nil, service.Deps{
		Monitor:  reg,
		Detector: a.newEngine(reg),
		Book:     book,
		Notifier: notifier,
	}, a.Logger)

	if err := svc.ProcessCycle(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("simulate cycle: %w", err)
	}
	return nil
}
