package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"owl-thermo/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Config 钉钉机器人配置
type Config struct {
	Webhook string
	Secret  string // 加签 secret，可选
	Keyword string // 安全关键字，可选
	Timeout time.Duration
}

// textMessage 钉钉 text 消息
type textMessage struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

// response 钉钉返回，errcode == 0 表示成功
type response struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// DingTalk 钉钉群机器人通知
type DingTalk struct {
	cfg        Config
	httpClient *resty.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewDingTalk 创建钉钉通知（不重试，至多一次投递）
func NewDingTalk(cfg Config, logger *zap.Logger) *DingTalk {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &DingTalk{
		cfg:        cfg,
		httpClient: client,
		logger:     logger,
		now:        time.Now,
	}
}

// Sign 计算加签：base64(HMAC-SHA256(key=secret, "{timestamp}\n{secret}"))
func Sign(timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignedURL 在 webhook 上追加 timestamp 与 sign 参数；未配置 secret 时原样返回
func SignedURL(webhook, secret string, timestamp int64) (string, error) {
	if secret == "" {
		return webhook, nil
	}
	u, err := url.Parse(webhook)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url: %w", err)
	}
	q := u.Query()
	q.Set("timestamp", strconv.FormatInt(timestamp, 10))
	q.Set("sign", Sign(timestamp, secret))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// BuildMessage 多个设备合并为一条消息，每个设备一行
func BuildMessage(alerts []models.AlertDescriptor) string {
	var b strings.Builder
	b.WriteString("温度过高报警\n以下设备温度持续超过设定阈值已达设定时长：")
	for _, a := range alerts {
		fmt.Fprintf(&b, "\n设备 %s 当前温度: %.2f°C 阈值: %g°C 持续时长: %d秒",
			a.DisplayName(), a.Temperature, a.Threshold, a.Duration)
	}
	return b.String()
}

// Send 发送报警通知，任何失败都返回 false 并记录日志
func (d *DingTalk) Send(ctx context.Context, alerts []models.AlertDescriptor) bool {
	if len(alerts) == 0 {
		return false
	}
	return d.SendText(ctx, BuildMessage(alerts))
}

// SendText 发送纯文本消息
func (d *DingTalk) SendText(ctx context.Context, content string) bool {
	if d.cfg.Webhook == "" {
		d.logger.Error("DINGTALK_WEBHOOK not configured, notification skipped")
		return false
	}

	if d.cfg.Keyword != "" {
		content = d.cfg.Keyword + " " + content
	}

	target, err := SignedURL(d.cfg.Webhook, d.cfg.Secret, d.now().UnixMilli())
	if err != nil {
		d.logger.Error("Failed to build webhook url", zap.Error(err))
		return false
	}

	var msg textMessage
	msg.MsgType = "text"
	msg.Text.Content = content

	var result response
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&result).
		Post(target)
	if err != nil {
		d.logger.Error("DingTalk request failed", zap.Error(err))
		return false
	}

	if !resp.IsSuccess() {
		d.logger.Error("DingTalk returned non-2xx status",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return false
	}

	if result.ErrCode != 0 {
		d.logger.Error("DingTalk returned error",
			zap.Int("errcode", result.ErrCode),
			zap.String("errmsg", result.ErrMsg),
		)
		return false
	}

	d.logger.Info("DingTalk message sent", zap.String("content", content))
	return true
}
