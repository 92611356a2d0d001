package model

const titleRuneLimit = 30

// DeriveTitle 从首条消息内容推导会话标题：截取前30个字符，超长追加省略号
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleRuneLimit {
		return content
	}

	return string(runes[:titleRuneLimit]) + "…"
}
