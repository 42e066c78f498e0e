package gateway

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/gltrack/telemetry-server/internal/bus"
	"github.com/gltrack/telemetry-server/internal/metrics"
	"github.com/gltrack/telemetry-server/internal/models"
)

// Downlink 向设备下发数据
type Downlink struct {
	registry *ConnectionRegistry
	bus      bus.Bus
	channel  string
	metrics  *metrics.Metrics
}

// NewDownlink 创建下行处理器
func NewDownlink(registry *ConnectionRegistry, b bus.Bus, channel string, m *metrics.Metrics) *Downlink {
	return &Downlink{
		registry: registry,
		bus:      b,
		channel:  channel,
		metrics:  m,
	}
}

// Send 解析下行命令并写入对应连接
func (d *Downlink) Send(cmd models.DownlinkCommand) (int, error) {
	payload, err := cmd.Payload()
	if err != nil {
		return 0, err
	}

	n, err := d.registry.Send(cmd.ConnectionID, payload)
	if err != nil {
		log.Warn().Err(err).
			Str("connection", cmd.ConnectionID).
			Int("size", len(payload)).
			Msg("下行发送失败")
		return n, err
	}

	d.metrics.DownlinksSent.Inc()
	log.Info().
		Str("connection", cmd.ConnectionID).
		Int("size", n).
		Msg("下行数据已发送")
	return n, nil
}

// Start 订阅总线上的下行消息，阻塞直到 ctx 取消
func (d *Downlink) Start(ctx context.Context) error {
	log.Info().Str("channel", d.channel).Msg("开始订阅下行消息")

	sub, err := d.bus.Subscribe(d.channel, func(msg *bus.Message) {
		var cmd models.DownlinkCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			log.Error().Err(err).Msg("解析下行消息失败")
			return
		}
		if cmd.ConnectionID == "" {
			log.Error().Msg("下行消息缺少 connectionId")
			return
		}
		d.Send(cmd)
	})
	if err != nil {
		log.Error().Err(err).Msg("订阅下行消息失败")
		return err
	}

	<-ctx.Done()
	sub.Unsubscribe()
	return ctx.Err()
}
