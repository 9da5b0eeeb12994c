// Package token はエンジン全体で共有するトークン数の見積もりを提供します
package token

// Estimate はテキストのトークン数を 4文字=1トークン のヒューリスティックで
// 見積もります。正確なトークナイズではなく近似値であり、チャンク化と
// コンテキスト組み立ての両方で同じ見積もりを使うことで予算計算のずれを防ぎます
func Estimate(text string) int {
	return len(text) / 4
}
