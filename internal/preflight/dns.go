package preflight

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/kbeye/console/internal/config"
)

// Probe 添加服务前的DNS可达性预检
//
// 只用于表单校验的提示信息，结果不阻塞创建。
type Probe struct {
	resolver string
	timeout  time.Duration
	client   *dns.Client
	logger   config.Logger
}

// CheckResult 预检结果
type CheckResult struct {
	Host     string        `json:"host"`
	Resolved bool          `json:"resolved"`
	Skipped  bool          `json:"skipped"`
	Elapsed  time.Duration `json:"elapsed"`
	Warning  string        `json:"warning,omitempty"`
}

// NewProbe 创建预检器
func NewProbe(cfg *config.Config, logger config.Logger) *Probe {
	resolver := cfg.Preflight.Resolver
	if resolver == "" {
		resolver = "8.8.8.8:53"
	}
	timeout := cfg.Preflight.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &Probe{
		resolver: resolver,
		timeout:  timeout,
		client: &dns.Client{
			Net:     "udp",
			Timeout: timeout,
		},
		logger: logger,
	}
}

// CheckHost 解析主机名的A记录
//
// 本机地址、IP字面量和内网主机直接跳过（与后端对开发环境
// 的宽松处理保持一致），其余主机向配置的解析器发起查询，
// 响应截断时换TCP重试一次。
func (p *Probe) CheckHost(ctx context.Context, host string) CheckResult {
	host = strings.TrimSpace(strings.ToLower(host))
	start := time.Now()

	if host == "" {
		return CheckResult{Host: host, Skipped: true, Warning: "主机名为空"}
	}
	if isLocalHost(host) {
		return CheckResult{Host: host, Resolved: true, Skipped: true}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	resp, _, err := p.client.ExchangeContext(ctx, msg, p.resolver)
	if err == nil && resp.Truncated {
		// 响应被截断，换TCP重试
		tcpClient := &dns.Client{Net: "tcp", Timeout: p.timeout}
		resp, _, err = tcpClient.ExchangeContext(ctx, msg, p.resolver)
	}

	elapsed := time.Since(start)
	if err != nil {
		p.logger.Warn("DNS预检查询失败",
			zap.String("host", host),
			zap.Error(err))
		return CheckResult{
			Host:    host,
			Elapsed: elapsed,
			Warning: fmt.Sprintf("DNS解析失败: %v", err),
		}
	}

	if resp.Rcode != dns.RcodeSuccess || len(resp.Answer) == 0 {
		return CheckResult{
			Host:    host,
			Elapsed: elapsed,
			Warning: fmt.Sprintf("主机无法解析 (rcode=%s, answers=%d)",
				dns.RcodeToString[resp.Rcode], len(resp.Answer)),
		}
	}

	return CheckResult{Host: host, Resolved: true, Elapsed: elapsed}
}

// isLocalHost 判断开发环境或内网主机
func isLocalHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return true
	}

	// IP字面量不需要解析
	if ip := net.ParseIP(host); ip != nil {
		return true
	}

	// 常见的开发域名后缀
	for _, suffix := range []string{".nip.io", ".xip.io", ".ngrok.io"} {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
