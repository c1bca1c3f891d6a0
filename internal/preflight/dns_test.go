package preflight

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/kbeye/console/internal/config"
)

type testLogger struct{}

func (testLogger) Debug(string, ...zapcore.Field) {}
func (testLogger) Info(string, ...zapcore.Field)  {}
func (testLogger) Warn(string, ...zapcore.Field)  {}
func (testLogger) Error(string, ...zapcore.Field) {}
func (testLogger) Fatal(string, ...zapcore.Field) {}

// startResolver 启动一个只认svc.example.com的本地DNS解析器
func startResolver(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)

		if len(req.Question) == 1 && req.Question[0].Name == "svc.example.com." {
			rr, _ := dns.NewRR("svc.example.com. 60 IN A 10.0.0.7")
			resp.Answer = append(resp.Answer, rr)
		}
		_ = w.WriteMsg(resp)
	})

	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func newTestProbe(t *testing.T, resolver string) *Probe {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Preflight.Resolver = resolver
	cfg.Preflight.Timeout = time.Second
	return NewProbe(cfg, testLogger{})
}

func TestCheckHostResolves(t *testing.T) {
	probe := newTestProbe(t, startResolver(t))

	result := probe.CheckHost(context.Background(), "svc.example.com")
	assert.True(t, result.Resolved, "已知主机应解析成功")
	assert.False(t, result.Skipped)
	assert.Empty(t, result.Warning)
}

func TestCheckHostUnknownHostWarns(t *testing.T) {
	probe := newTestProbe(t, startResolver(t))

	result := probe.CheckHost(context.Background(), "missing.example.com")
	assert.False(t, result.Resolved, "无应答的主机不应标记为已解析")
	assert.NotEmpty(t, result.Warning, "应给出提示信息")
}

func TestCheckHostSkipsLocalTargets(t *testing.T) {
	// 解析器地址故意不可用，命中跳过逻辑时不应发起查询
	probe := newTestProbe(t, "127.0.0.1:1")

	for _, host := range []string{"localhost", "127.0.0.1", "db.local", "app.nip.io"} {
		result := probe.CheckHost(context.Background(), host)
		assert.True(t, result.Skipped, "本机或内网主机应跳过: %s", host)
		assert.True(t, result.Resolved, "跳过的主机视为可达: %s", host)
	}
}

func TestCheckHostEmpty(t *testing.T) {
	probe := newTestProbe(t, "127.0.0.1:1")

	result := probe.CheckHost(context.Background(), "  ")
	assert.True(t, result.Skipped)
	assert.False(t, result.Resolved)
	assert.NotEmpty(t, result.Warning)
}

func TestIsLocalHost(t *testing.T) {
	assert.True(t, isLocalHost("localhost"))
	assert.True(t, isLocalHost("192.168.1.10"))
	assert.True(t, isLocalHost("::1"))
	assert.True(t, isLocalHost("internal.local"))
	assert.False(t, isLocalHost("example.com"))
	assert.False(t, isLocalHost("api.kbeye.io"))
}
