package gateway

import (
	"bytes"

	"github.com/gltrack/telemetry-server/pkg/glproto"
)

// Framer 按声明的记录数把 TCP 字节流切分成完整帧
type Framer struct {
	decoder *glproto.Decoder
	buf     []byte
}

// NewFramer 创建分帧器
func NewFramer(decoder *glproto.Decoder) *Framer {
	return &Framer{decoder: decoder}
}

// Push 追加读到的数据，返回所有已完整的帧。
// 半帧之后紧跟以魔数开头的新数据时，半帧按原样单独输出；
// 缓冲区开头不是魔数时跳到下一个魔数，跳过的字节单独成帧。
func (f *Framer) Push(data []byte) [][]byte {
	var frames [][]byte
	if len(f.buf) > 0 && f.startsWithMagic(data) {
		frames = append(frames, f.Flush())
	}
	f.buf = append(f.buf, data...)

	for len(f.buf) > 0 {
		if !f.startsWithMagic(f.buf) {
			skip := f.resync()
			if skip == 0 {
				break
			}
			frames = append(frames, f.take(skip))
			continue
		}
		if len(f.buf) < glproto.HeaderLen {
			break
		}
		size := f.decoder.FrameSize(int(f.buf[glproto.MagicLen]))
		if len(f.buf) < size {
			break
		}
		frames = append(frames, f.take(size))
	}

	// 缓冲区清空时释放底层数组
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return frames
}

// resync 返回到下一个魔数之前的字节数，末尾的半个魔数保留
func (f *Framer) resync() int {
	magic := f.decoder.Magic()
	if i := bytes.Index(f.buf[1:], magic[:]); i >= 0 {
		return i + 1
	}
	last := len(f.buf) - 1
	if f.buf[last] == magic[0] {
		return last
	}
	return len(f.buf)
}

// take 复制并移除缓冲区开头的 n 个字节
func (f *Framer) take(n int) []byte {
	out := make([]byte, n)
	copy(out, f.buf[:n])
	f.buf = f.buf[n:]
	return out
}

func (f *Framer) startsWithMagic(b []byte) bool {
	magic := f.decoder.Magic()
	return len(b) >= glproto.MagicLen && b[0] == magic[0] && b[1] == magic[1]
}

// Pending 未成帧的字节数
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Flush 取出剩余的不完整数据并清空缓冲区
func (f *Framer) Flush() []byte {
	if len(f.buf) == 0 {
		return nil
	}
	rest := f.buf
	f.buf = nil
	return rest
}

// HasMagic 检查缓冲区开头是否为协议魔数
func (f *Framer) HasMagic() bool {
	return f.startsWithMagic(f.buf)
}
