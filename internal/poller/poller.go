// Package poller 实现了去重的周期性节点信息广播
package poller

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/jessmzp/btcpayserver/internal/logger"
	"github.com/jessmzp/btcpayserver/internal/notify"
)

// NodeInfoSource 节点地址信息的来源
type NodeInfoSource interface {
	NodeInfo(ctx context.Context) (string, error)
}

// FileSource 从磁盘文件读取节点信息，文件由运维侧更新
type FileSource struct {
	Path string
}

func (fs *FileSource) NodeInfo(_ context.Context) (string, error) {
	data, err := os.ReadFile(fs.Path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Poller 周期性读取节点信息，仅在值变化时广播
type Poller struct {
	source   NodeInfoSource
	router   *notify.Router
	interval time.Duration

	seen       bool
	lastValue  string
	lastErrMsg string
}

func NewPoller(source NodeInfoSource, router *notify.Router, interval time.Duration) *Poller {
	return &Poller{
		source:   source,
		router:   router,
		interval: interval,
	}
}

// Run 轮询循环，每轮开始前检查ctx，等待本身可被取消
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			logger.Debug("Node info poller stopped")
			return
		}

		p.poll(ctx)

		select {
		case <-ctx.Done():
			logger.Debug("Node info poller stopped")
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	info, err := p.source.NodeInfo(ctx)
	if err != nil {
		// 相同错误只记一次，避免刷日志
		if err.Error() != p.lastErrMsg {
			logger.ErrorF("Fail to poll node info, details: %v", err)
			p.lastErrMsg = err.Error()
		}
		return
	}
	p.lastErrMsg = ""

	if p.seen && info == p.lastValue {
		return
	}
	p.seen = true
	p.lastValue = info

	err = p.router.Dispatch(ctx, notify.Event{
		Type:   notify.NodeInfoChanged,
		Detail: info,
	})
	if err != nil {
		logger.ErrorF("Fail to broadcast node info, details: %v", err)
		return
	}
	logger.InfoF("Node info changed, broadcasted to all connections")
}
