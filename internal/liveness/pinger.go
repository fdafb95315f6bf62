package liveness

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"owl-thermo/internal/models"
)

// Pinger 单次可达性探测，返回 nil 表示在线
type Pinger interface {
	Ping(ctx context.Context, ip string) error
}

// SystemPinger 使用系统 ping 命令发送一次 echo
type SystemPinger struct {
	Timeout time.Duration
}

// NewSystemPinger 创建系统 ping 探测器
func NewSystemPinger(timeout time.Duration) *SystemPinger {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &SystemPinger{Timeout: timeout}
}

// Ping 执行 ping，超时、不可达或命令错误都返回错误
func (p *SystemPinger) Ping(ctx context.Context, ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("invalid ip address %q", ip)
	}

	path, err := exec.LookPath("ping")
	if err != nil {
		return fmt.Errorf("ping 未安装或不可用: %w", err)
	}

	// 命令本身再留 1 秒余量
	ctx, cancel := context.WithTimeout(ctx, p.Timeout+time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, pingArgs(runtime.GOOS, ip, p.Timeout)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if ctx.Err() != nil {
			return fmt.Errorf("%w: ping %s timed out: %v", models.ErrConnectivity, ip, ctx.Err())
		}
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%w: ping %s failed: %s", models.ErrConnectivity, ip, lastLine(msg))
	}
	return nil
}

// pingArgs 各平台的单次 ping 参数
func pingArgs(goos, ip string, timeout time.Duration) []string {
	ms := int(timeout / time.Millisecond)
	sec := int(timeout.Seconds())
	if sec <= 0 {
		sec = 1
	}
	switch goos {
	case "windows":
		return []string{"-n", "1", "-w", strconv.Itoa(ms), ip}
	case "darwin":
		// macOS 的 -W 单位是毫秒
		return []string{"-c", "1", "-W", strconv.Itoa(ms), ip}
	default:
		return []string{"-c", "1", "-W", strconv.Itoa(sec), ip}
	}
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
