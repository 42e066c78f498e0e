package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gltrack/telemetry-server/internal/config"
	"github.com/gltrack/telemetry-server/internal/metrics"
	"github.com/gltrack/telemetry-server/internal/publisher"
	"github.com/gltrack/telemetry-server/pkg/glproto"
)

// FrameSink 接收每次解码结果，不得阻塞读循环
type FrameSink interface {
	Enqueue(f *publisher.Frame) bool
}

// IngestServer 接收设备 TCP 连接，每个连接一个 goroutine
type IngestServer struct {
	listener net.Listener
	decoder  *glproto.Decoder
	registry *ConnectionRegistry
	sink     FrameSink
	metrics  *metrics.Metrics
	cfg      config.IngestConfig

	wg sync.WaitGroup
}

// NewIngestServer 创建 TCP 接入服务器并监听端口
func NewIngestServer(cfg config.IngestConfig, decoder *glproto.Decoder, registry *ConnectionRegistry, sink FrameSink, m *metrics.Metrics) (*IngestServer, error) {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, err
	}

	return &IngestServer{
		listener: ln,
		decoder:  decoder,
		registry: registry,
		sink:     sink,
		metrics:  m,
		cfg:      cfg,
	}, nil
}

// Addr 实际监听地址
func (s *IngestServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Registry 连接注册表
func (s *IngestServer) Registry() *ConnectionRegistry {
	return s.registry
}

// Start 启动接入循环，ctx 取消后关闭监听和所有连接
func (s *IngestServer) Start(ctx context.Context) error {
	log.Info().
		Str("addr", s.listener.Addr().String()).
		Str("layout", s.decoder.Layout().Name).
		Str("magic", s.decoder.Magic().String()).
		Msg("TCP 接入服务器启动")

	// 启动注册表清理
	go s.registry.Start(ctx)

	go func() {
		<-ctx.Done()
		s.listener.Close()
		s.registry.CloseAll()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return err
			}
			log.Error().Err(err).Msg("接受连接失败")
			time.Sleep(100 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection 连接状态机：等待握手 → 接收数据 → 关闭
func (s *IngestServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	framer := NewFramer(s.decoder)
	buf := make([]byte, s.cfg.ReadBuffer)

	if !s.handshake(conn, framer, buf) {
		s.metrics.HandshakeFailures.Inc()
		log.Warn().Str("remote", remote).Msg("握手失败，关闭连接")
		return
	}

	id := s.registry.Register(conn, s.cfg.Provider)
	s.registry.Touch(id, framer.Pending())
	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ActiveConnections.Inc()
	defer func() {
		s.registry.MarkDisconnected(id)
		s.metrics.ActiveConnections.Dec()
	}()

	logger := log.With().Str("connection", id).Str("remote", remote).Logger()
	logger.Info().Msg("设备已连接")

	var packetNumber int64
	emit := func(raw []byte) {
		packetNumber++
		result := s.decoder.Decode(raw)
		s.registry.RecordFrame(id, result.Valid())

		if !result.Valid() {
			logger.Warn().
				Int64("packetNumber", packetNumber).
				Strs("errors", result.Errors).
				Int("records", len(result.Records)).
				Msg("帧解码错误")
		}

		s.sink.Enqueue(&publisher.Frame{
			ConnectionID: id,
			Provider:     s.cfg.Provider,
			PacketNumber: packetNumber,
			Raw:          raw,
			Result:       result,
			ReceivedAt:   time.Now().UTC(),
		})
	}

	// 握手阶段读到的数据
	for _, frame := range framer.Push(nil) {
		emit(frame)
	}

	for {
		if ctx.Err() != nil {
			break
		}

		// 有未完成的帧时只等待 frame_gap，超时后按现有数据解码
		timeout := s.cfg.ReadTimeout
		if framer.Pending() > 0 {
			timeout = s.cfg.FrameGap
		}
		conn.SetReadDeadline(time.Now().Add(timeout))

		n, err := conn.Read(buf)
		if n > 0 {
			s.metrics.BytesReceived.Add(float64(n))
			s.registry.Touch(id, n)
			for _, frame := range framer.Push(buf[:n]) {
				emit(frame)
			}
		}
		if err == nil {
			continue
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && framer.Pending() > 0 {
			emit(framer.Flush())
			continue
		}

		if rest := framer.Flush(); rest != nil {
			emit(rest)
		}

		switch {
		case errors.Is(err, io.EOF):
			logger.Info().Int64("packets", packetNumber).Msg("设备断开连接")
		case errors.As(err, &netErr) && netErr.Timeout():
			logger.Info().Dur("timeout", s.cfg.ReadTimeout).Msg("读取超时，关闭连接")
		case ctx.Err() != nil || errors.Is(err, net.ErrClosed):
			logger.Info().Msg("服务器关闭，断开连接")
		default:
			logger.Warn().Err(err).Msg("读取错误，关闭连接")
		}
		return
	}
}

// handshake 在 handshake_timeout 内读到协议魔数。读到的数据留在分帧器中
func (s *IngestServer) handshake(conn net.Conn, framer *Framer, buf []byte) bool {
	conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))

	for framer.Pending() < glproto.MagicLen {
		n, err := conn.Read(buf)
		if n > 0 {
			s.metrics.BytesReceived.Add(float64(n))
			// 只缓存，不切帧
			framer.buf = append(framer.buf, buf[:n]...)
		}
		if err != nil {
			return false
		}
	}

	return framer.HasMagic()
}
