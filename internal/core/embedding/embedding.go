package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// Embedder はテキストの埋め込みベクトル生成インターフェース
type Embedder interface {
	// Embed は単一テキストの埋め込みベクトルを生成します
	Embed(ctx context.Context, text string) ([]float32, error)
}

// floatSize は float32 のバイト幅
const floatSize = 4

// Serialize はベクトルを BLOB 保存用のバイト列に変換します
// レイアウト: リトルエンディアンの float32 を隙間なく並べたもの
func Serialize(vector []float32) []byte {
	buf := make([]byte, len(vector)*floatSize)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*floatSize:], math.Float32bits(v))
	}
	return buf
}

// Deserialize はバイト列をベクトルに復元します
// 長さが float32 幅の倍数でない場合はエラーを返します（クラッシュしない）
func Deserialize(data []byte) ([]float32, error) {
	if len(data)%floatSize != 0 {
		return nil, fmt.Errorf("invalid embedding blob: %d bytes is not a multiple of %d", len(data), floatSize)
	}
	vector := make([]float32, len(data)/floatSize)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*floatSize:]))
	}
	return vector, nil
}

// CosineSimilarity は2つのベクトルのコサイン類似度を計算します
// 長さ不一致・空・ゼロベクトルの場合は 0.0 を返します（エラーにしない）
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denominator := math.Sqrt(normA) * math.Sqrt(normB)
	if denominator == 0 {
		return 0
	}
	return float32(dot / denominator)
}
