package decoder

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// SendAction 转账附带消息解析出的动作
type SendAction int

const (
	// ActionDefault 无消息或空消息，按代币种类路由
	ActionDefault SendAction = iota
	// ActionConsign 显式寄售
	ActionConsign
	// ActionPlaceBid 显式出价
	ActionPlaceBid
)

// String 动作名称
func (a SendAction) String() string {
	switch a {
	case ActionConsign:
		return "consign"
	case ActionPlaceBid:
		return "place_bid"
	default:
		return "default"
	}
}

// sendEnvelope 消息信封，最多只允许设置一个变体
type sendEnvelope struct {
	Consign  *struct{} `json:"consign,omitempty"`
	PlaceBid *struct{} `json:"place_bid,omitempty"`
}

// MsgDecoder 转账消息解码器
// 转账可以携带base64编码的JSON消息来声明意图，缺省时按代币种类路由
type MsgDecoder struct {
	logger *logrus.Logger
	strict bool // 严格模式下无法识别的消息返回错误而非回退默认路由
}

// NewMsgDecoder 创建转账消息解码器
func NewMsgDecoder(logger *logrus.Logger, strict bool) *MsgDecoder {
	return &MsgDecoder{
		logger: logger,
		strict: strict,
	}
}

// Decode 解析base64消息为动作
func (d *MsgDecoder) Decode(msg string) (SendAction, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return ActionDefault, nil
	}

	raw, err := decodeBase64(msg)
	if err != nil {
		if d.strict {
			return ActionDefault, fmt.Errorf("解码转账消息失败: %w", err)
		}
		d.logger.Debugf("转账消息不是有效的base64，按默认路由处理: %v", err)
		return ActionDefault, nil
	}

	var envelope sendEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if d.strict {
			return ActionDefault, fmt.Errorf("解析转账消息失败: %w", err)
		}
		d.logger.Debugf("转账消息不是有效的JSON，按默认路由处理: %v", err)
		return ActionDefault, nil
	}

	return d.resolveAction(&envelope)
}

// resolveAction 从信封解析动作，多个变体同时设置视为无效
func (d *MsgDecoder) resolveAction(envelope *sendEnvelope) (SendAction, error) {
	set := 0
	action := ActionDefault

	if envelope.Consign != nil {
		set++
		action = ActionConsign
	}
	if envelope.PlaceBid != nil {
		set++
		action = ActionPlaceBid
	}

	if set > 1 {
		return ActionDefault, fmt.Errorf("转账消息设置了多个动作变体")
	}

	return action, nil
}

// decodeBase64 兼容标准与URL安全两种字母表，有无填充均可
func decodeBase64(msg string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}

	var lastErr error
	for _, enc := range encodings {
		raw, err := enc.DecodeString(msg)
		if err == nil {
			return raw, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// EncodeAction 编码动作为base64消息，与Decode互逆
func EncodeAction(action SendAction) (string, error) {
	var envelope sendEnvelope
	switch action {
	case ActionConsign:
		envelope.Consign = &struct{}{}
	case ActionPlaceBid:
		envelope.PlaceBid = &struct{}{}
	case ActionDefault:
		return "", nil
	default:
		return "", fmt.Errorf("未知的动作: %d", action)
	}

	raw, err := json.Marshal(&envelope)
	if err != nil {
		return "", fmt.Errorf("序列化转账消息失败: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// SetStrictMode 设置严格模式
func (d *MsgDecoder) SetStrictMode(strict bool) {
	d.strict = strict
	d.logger.Infof("转账消息解码器严格模式设置为: %t", strict)
}
