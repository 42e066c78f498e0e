package main

import (
	"context"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/gltrack/telemetry-server/pkg/glproto"
)

// simModule 模拟模块的飞行状态
type simModule struct {
	id       uint8
	lat, lon float64
	alt      float64
}

func main() {
	// 命令行参数
	addr := pflag.String("addr", "localhost:5000", "接入服务器地址")
	magic := pflag.String("magic", glproto.DefaultMagic.String(), "帧头")
	layoutName := pflag.String("layout", glproto.DefaultLayout.Name, "子记录布局 (v1|v2|v3)")
	modules := pflag.Int("modules", 3, "模拟模块数量")
	interval := pflag.Duration("interval", time.Second, "发送间隔")
	count := pflag.Int("count", 0, "发送帧数，0 表示不限")
	truncateRate := pflag.Float64("truncate-rate", 0, "截断帧的比例 (0-1)")
	corruptRate := pflag.Float64("corrupt-rate", 0, "坐标越界帧的比例 (0-1)")
	originLat := pflag.Float64("lat", 45.1885, "起始纬度")
	originLon := pflag.Float64("lon", 5.7245, "起始经度")
	seed := pflag.Int64("seed", 0, "随机种子，0 使用当前时间")
	debug := pflag.Bool("debug", false, "输出每一帧")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	m, err := glproto.ParseMagic(*magic)
	if err != nil {
		log.Fatal().Err(err).Msg("无效的帧头")
	}
	layout, err := glproto.LayoutByName(*layoutName)
	if err != nil {
		log.Fatal().Err(err).Msg("无效的布局")
	}
	if *modules < 1 || *modules > 255 {
		log.Fatal().Int("modules", *modules).Msg("模块数量必须在 1-255 之间")
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	fleet := make([]*simModule, *modules)
	for i := range fleet {
		fleet[i] = &simModule{
			id:  uint8(i + 1),
			lat: *originLat + rng.Float64()*0.01,
			lon: *originLon + rng.Float64()*0.01,
			alt: 200 + rng.Float64()*100,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("连接接入服务器失败")
	}
	defer conn.Close()

	log.Info().
		Str("addr", *addr).
		Str("layout", layout.Name).
		Int("modules", *modules).
		Dur("interval", *interval).
		Msg("模拟器已连接")

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sent := 0
	for {
		frame, kind, err := buildFrame(rng, m, layout, fleet, *truncateRate, *corruptRate)
		if err != nil {
			log.Fatal().Err(err).Msg("编码帧失败")
		}

		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Write(frame); err != nil {
			log.Error().Err(err).Msg("发送失败，退出")
			return
		}
		sent++

		log.Debug().
			Int("seq", sent).
			Str("kind", kind).
			Int("bytes", len(frame)).
			Msg("已发送帧")

		if *count > 0 && sent >= *count {
			log.Info().Int("frames", sent).Msg("发送完成")
			return
		}

		select {
		case <-ctx.Done():
			log.Info().Int("frames", sent).Msg("收到退出信号")
			return
		case <-ticker.C:
		}
	}
}

// buildFrame 推进每个模块的位置并编码一帧，按比例生成截断或越界帧
func buildFrame(rng *rand.Rand, magic glproto.Magic, layout *glproto.Layout, fleet []*simModule, truncateRate, corruptRate float64) ([]byte, string, error) {
	records := make([]glproto.SubRecord, 0, len(fleet))
	for _, mod := range fleet {
		mod.lat += (rng.Float64() - 0.5) * 0.001
		mod.lon += (rng.Float64() - 0.5) * 0.001
		mod.alt += (rng.Float64() - 0.4) * 10
		if mod.alt < 0 {
			mod.alt = 0
		}
		if mod.alt > 2000 {
			mod.alt = 2000
		}

		records = append(records, glproto.SubRecord{
			ModuleID:    mod.id,
			PacketType:  uint8(rng.Intn(3)),
			Latitude:    mod.lat,
			Longitude:   mod.lon,
			Altitude:    uint32(mod.alt),
			Speed:       uint32(rng.Intn(64)),
			RateOfClimb: uint32(rng.Intn(32)),
			HopCount:    uint32(rng.Intn(2)),
		})
	}

	kind := "valid"
	if rng.Float64() < corruptRate {
		// 纬度超出 [-90, 90]，但仍在字段位宽内
		records[rng.Intn(len(records))].Latitude = 120
		kind = "corrupt"
	}

	frame, err := glproto.EncodeFrame(magic, layout, records)
	if err != nil {
		return nil, "", err
	}

	if rng.Float64() < truncateRate {
		cut := glproto.HeaderLen + rng.Intn(len(frame)-glproto.HeaderLen)
		frame = frame[:cut]
		kind = "truncated"
	}

	return frame, kind, nil
}
