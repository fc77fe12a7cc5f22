package utils

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CheckFFmpeg 检查 ffmpeg 和 ffprobe 是否可用
func CheckFFmpeg() bool {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	return exec.Command("ffmpeg", "-version").Run() == nil
}

// RunCommand 执行外部命令，失败时附带 stderr 的最后几行
func RunCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	Debug("执行命令: %s %s", name, strings.Join(args, " "))
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s 执行失败: %w: %s", name, err, tailLines(stderr.String(), 3))
	}
	return out, nil
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
