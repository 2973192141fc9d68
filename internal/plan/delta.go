package plan

import (
	"fmt"
	"sort"
	"strings"
)

// Delta 描述按 (场所, 代币) 聚合的有符号数量变动。
// 路由器每次调用生成全新实例，返回后不再修改，聚合时只做累加。
type Delta map[string]map[string]float64

// NewDelta 创建空的变动集合。
func NewDelta() Delta {
	return make(Delta)
}

// Add 累加单个 (场所, 代币) 的数量变动，相同键永远相加而非覆盖。
func (d Delta) Add(venue, token string, amount float64) {
	tokens, ok := d[venue]
	if !ok {
		tokens = make(map[string]float64)
		d[venue] = tokens
	}
	tokens[token] += amount
}

// Merge 将另一个变动集合累加进来。
func (d Delta) Merge(other Delta) {
	for venue, tokens := range other {
		for token, amount := range tokens {
			d.Add(venue, token, amount)
		}
	}
}

// Clone 返回深拷贝。
func (d Delta) Clone() Delta {
	out := make(Delta, len(d))
	for venue, tokens := range d {
		cp := make(map[string]float64, len(tokens))
		for token, amount := range tokens {
			cp[token] = amount
		}
		out[venue] = cp
	}
	return out
}

// Get 读取单个键的变动量，缺失返回 0。
func (d Delta) Get(venue, token string) float64 {
	if tokens, ok := d[venue]; ok {
		return tokens[token]
	}
	return 0
}

// IsEmpty 判断集合是否没有任何变动。
func (d Delta) IsEmpty() bool {
	for _, tokens := range d {
		if len(tokens) > 0 {
			return false
		}
	}
	return true
}

// String 输出确定顺序的摘要，便于日志与事件记录。
func (d Delta) String() string {
	venues := make([]string, 0, len(d))
	for venue := range d {
		venues = append(venues, venue)
	}
	sort.Strings(venues)

	var b strings.Builder
	b.WriteByte('{')
	for i, venue := range venues {
		if i > 0 {
			b.WriteString(", ")
		}
		tokens := make([]string, 0, len(d[venue]))
		for token := range d[venue] {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		b.WriteString(venue)
		b.WriteByte(':')
		for j, token := range tokens {
			if j > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%+.8f", token, d[venue][token])
		}
	}
	b.WriteByte('}')
	return b.String()
}
