package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"owl-thermo/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const fixedMillis = int64(1700000000000)

func TestSign(t *testing.T) {
	assert.Equal(t, "+Bh9SwoeH9HQxR41UdauZIHGfZxqZfTRUyRQk1jsaxA=", Sign(fixedMillis, "shh"))
}

func TestSignedURL(t *testing.T) {
	u, err := SignedURL("https://oapi.dingtalk.com/robot/send?access_token=abc", "shh", fixedMillis)
	require.NoError(t, err)
	assert.Contains(t, u, "access_token=abc")
	assert.Contains(t, u, "timestamp=1700000000000")
	assert.Contains(t, u, "sign=%2BBh9SwoeH9HQxR41UdauZIHGfZxqZfTRUyRQk1jsaxA%3D")

	unsigned, err := SignedURL("https://oapi.dingtalk.com/robot/send?access_token=abc", "", fixedMillis)
	require.NoError(t, err)
	assert.Equal(t, "https://oapi.dingtalk.com/robot/send?access_token=abc", unsigned)
}

func TestBuildMessage(t *testing.T) {
	msg := BuildMessage([]models.AlertDescriptor{
		{DeviceID: "dev-1", Alias: "Freezer", Temperature: 52.346, Threshold: 50, Duration: 10},
		{DeviceID: "dev-2", Temperature: 61, Threshold: 60.5, Duration: 30},
	})
	lines := strings.Split(msg, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "设备 Freezer(dev-1) 当前温度: 52.35°C 阈值: 50°C 持续时长: 10秒", lines[2])
	assert.Equal(t, "设备 dev-2 当前温度: 61.00°C 阈值: 60.5°C 持续时长: 30秒", lines[3])
}

type captured struct {
	query webhookQuery
	body  textMessage
}

type webhookQuery struct {
	timestamp string
	sign      string
}

func newWebhook(t *testing.T, status int, reply string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			got.query = webhookQuery{timestamp: r.URL.Query().Get("timestamp"), sign: r.URL.Query().Get("sign")}
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDingTalk(cfg Config) *DingTalk {
	d := NewDingTalk(cfg, zap.NewNop())
	d.now = func() time.Time { return time.UnixMilli(fixedMillis) }
	return d
}

var sampleAlerts = []models.AlertDescriptor{{DeviceID: "dev-1", Temperature: 55, Threshold: 50, Duration: 10}}

func TestSend_SignedWithKeyword(t *testing.T) {
	var got captured
	srv := newWebhook(t, http.StatusOK, `{"errcode":0,"errmsg":"ok"}`, &got)
	d := newTestDingTalk(Config{Webhook: srv.URL + "/robot/send?access_token=abc", Secret: "shh", Keyword: "告警"})

	assert.True(t, d.Send(context.Background(), sampleAlerts))
	assert.Equal(t, "1700000000000", got.query.timestamp)
	assert.Equal(t, Sign(fixedMillis, "shh"), got.query.sign)
	assert.Equal(t, "text", got.body.MsgType)
	assert.True(t, strings.HasPrefix(got.body.Text.Content, "告警 温度过高报警"))
	assert.Contains(t, got.body.Text.Content, "dev-1")
}

func TestSend_Unsigned(t *testing.T) {
	var got captured
	srv := newWebhook(t, http.StatusOK, `{"errcode":0}`, &got)
	d := newTestDingTalk(Config{Webhook: srv.URL})

	assert.True(t, d.Send(context.Background(), sampleAlerts))
	assert.Empty(t, got.query.timestamp)
	assert.Empty(t, got.query.sign)
}

func TestSend_ProviderError(t *testing.T) {
	srv := newWebhook(t, http.StatusOK, `{"errcode":310000,"errmsg":"sign not match"}`, nil)
	d := newTestDingTalk(Config{Webhook: srv.URL, Secret: "shh"})
	assert.False(t, d.Send(context.Background(), sampleAlerts))
}

func TestSend_Non2xx(t *testing.T) {
	srv := newWebhook(t, http.StatusInternalServerError, `{}`, nil)
	d := newTestDingTalk(Config{Webhook: srv.URL})
	assert.False(t, d.Send(context.Background(), sampleAlerts))
}

func TestSend_TransportError(t *testing.T) {
	srv := newWebhook(t, http.StatusOK, `{}`, nil)
	srv.Close()
	d := newTestDingTalk(Config{Webhook: srv.URL, Timeout: time.Second})
	assert.False(t, d.Send(context.Background(), sampleAlerts))
}

func TestSend_NoWebhookOrNoAlerts(t *testing.T) {
	d := newTestDingTalk(Config{})
	assert.False(t, d.Send(context.Background(), sampleAlerts))

	srv := newWebhook(t, http.StatusOK, `{"errcode":0}`, nil)
	d = newTestDingTalk(Config{Webhook: srv.URL})
	assert.False(t, d.Send(context.Background(), nil))
}
