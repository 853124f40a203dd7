package notifier

import "context"

// TextNotifier 发送一条文本通知；实现方自行处理重试。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}
