package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"bintrader/internal/order"
)

// Plan 为一份有序的批量下单计划，提交顺序与条目顺序一致。
// 允许重复条目，每个条目产生独立订单。
type Plan struct {
	Entries []order.Request
}

type planEntry struct {
	Symbol    string     `yaml:"symbol"`
	Direction string     `yaml:"direction"`
	Stake     yamlAmount `yaml:"stake"`
}

// yamlAmount 把计划文件中的数字按字面量解析为 decimal，
// 避免经由 float64 的精度损失。
type yamlAmount struct {
	value decimal.Decimal
	set   bool
}

func (a *yamlAmount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("stake 必须是数字")
	}
	parsed, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("stake %q 无法解析: %w", node.Value, err)
	}
	a.value = parsed
	a.set = true
	return nil
}

// LoadFile 从 yaml 文件读取计划。
func LoadFile(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: 读取计划文件失败: %w", err)
	}
	return Parse(raw)
}

// Parse 解析计划内容。未知字段一律拒绝。
func Parse(raw []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var entries []planEntry
	if err := dec.Decode(&entries); err != nil {
		if errors.Is(err, io.EOF) {
			// 空文件等价于空计划。
			return &Plan{}, nil
		}
		return nil, fmt.Errorf("plan: 解析计划失败: %w", err)
	}

	p := &Plan{Entries: make([]order.Request, 0, len(entries))}
	var verr error
	for i, e := range entries {
		if e.Symbol == "" {
			verr = multierr.Append(verr, fmt.Errorf("条目 %d: symbol 不能为空", i))
		}
		direction := order.Direction(e.Direction)
		if !direction.Valid() {
			verr = multierr.Append(verr, fmt.Errorf("条目 %d: direction %q 不合法（up|down）", i, e.Direction))
		}
		if !e.Stake.set {
			verr = multierr.Append(verr, fmt.Errorf("条目 %d: stake 不能为空", i))
		} else if e.Stake.value.Sign() <= 0 {
			verr = multierr.Append(verr, fmt.Errorf("条目 %d: stake 必须为正数", i))
		}

		p.Entries = append(p.Entries, order.Request{
			Symbol:    e.Symbol,
			Direction: direction,
			Stake:     e.Stake.value,
			Duration:  order.FixedDuration,
		})
	}

	if verr != nil {
		return nil, fmt.Errorf("plan: 计划校验失败: %w", verr)
	}
	return p, nil
}

// Len 返回计划条目数量。
func (p *Plan) Len() int {
	return len(p.Entries)
}
