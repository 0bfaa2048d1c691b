package instrument

import (
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const expiryLayout = "2006-01-02"

// Instrument 合约静态参数
type Instrument struct {
	Symbol       string
	BrokerSymbol string
	PointValue   decimal.Decimal
	MarginPerLot decimal.Decimal
	Expiry       time.Time // 零值表示无到期日
}

// Equal 合约参数是否一致
func (i Instrument) Equal(o Instrument) bool {
	return i.Symbol == o.Symbol &&
		i.BrokerSymbol == o.BrokerSymbol &&
		i.PointValue.Equal(o.PointValue) &&
		i.MarginPerLot.Equal(o.MarginPerLot) &&
		i.Expiry.Equal(o.Expiry)
}

type fileEntry struct {
	Symbol       string  `yaml:"symbol"`
	BrokerSymbol string  `yaml:"broker_symbol"`
	PointValue   float64 `yaml:"point_value"`
	MarginPerLot float64 `yaml:"margin_per_lot"`
	Expiry       string  `yaml:"expiry"`
}

type fileFormat struct {
	Instruments []fileEntry `yaml:"instruments"`
}

// Catalog 合约目录，只读查询并发安全
type Catalog struct {
	mu    sync.RWMutex
	items map[string]Instrument
}

// Load 从 YAML 文件加载
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read instruments file %s", path)
	}
	return Parse(data)
}

// Parse 解析 YAML 内容
func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse instruments")
	}

	c := &Catalog{items: make(map[string]Instrument, len(f.Instruments))}
	for _, e := range f.Instruments {
		inst, err := e.toInstrument()
		if err != nil {
			return nil, err
		}
		if _, ok := c.items[inst.Symbol]; ok {
			return nil, errors.Errorf("duplicate instrument %s", inst.Symbol)
		}
		c.items[inst.Symbol] = inst
	}
	return c, nil
}

// New 直接由内存列表构建
func New(items ...Instrument) *Catalog {
	c := &Catalog{items: make(map[string]Instrument, len(items))}
	for _, it := range items {
		it.Symbol = normalize(it.Symbol)
		if it.BrokerSymbol == "" {
			it.BrokerSymbol = it.Symbol
		}
		c.items[it.Symbol] = it
	}
	return c
}

func (e fileEntry) toInstrument() (Instrument, error) {
	symbol := normalize(e.Symbol)
	if symbol == "" {
		return Instrument{}, errors.New("instrument symbol is empty")
	}
	if e.PointValue <= 0 {
		return Instrument{}, errors.Errorf("instrument %s: point_value must be positive", symbol)
	}
	if e.MarginPerLot < 0 {
		return Instrument{}, errors.Errorf("instrument %s: margin_per_lot must not be negative", symbol)
	}

	inst := Instrument{
		Symbol:       symbol,
		BrokerSymbol: e.BrokerSymbol,
		PointValue:   decimal.NewFromFloat(e.PointValue),
		MarginPerLot: decimal.NewFromFloat(e.MarginPerLot),
	}
	if inst.BrokerSymbol == "" {
		inst.BrokerSymbol = symbol
	}
	if e.Expiry != "" {
		t, err := time.Parse(expiryLayout, e.Expiry)
		if err != nil {
			return Instrument{}, errors.Wrapf(err, "instrument %s: expiry", symbol)
		}
		inst.Expiry = t
	}
	return inst, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Get 按代码查询
func (c *Catalog) Get(symbol string) (Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.items[normalize(symbol)]
	return inst, ok
}

// Symbols 所有代码，已排序
func (c *Catalog) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.items))
	for s := range c.items {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Replace 用新目录替换内容（热加载）
func (c *Catalog) Replace(other *Catalog) {
	other.mu.RLock()
	items := make(map[string]Instrument, len(other.items))
	for k, v := range other.items {
		items[k] = v
	}
	other.mu.RUnlock()

	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
}

func (c *Catalog) snapshot() map[string]Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	items := make(map[string]Instrument, len(c.items))
	for k, v := range c.items {
		items[k] = v
	}
	return items
}

// DaysToExpiry 距到期日的自然日天数，无到期日时 ok 为 false
func (c *Catalog) DaysToExpiry(symbol string, now time.Time) (int, bool) {
	inst, ok := c.Get(symbol)
	if !ok || inst.Expiry.IsZero() {
		return 0, false
	}
	return DaysBetween(now, inst.Expiry), true
}

// DaysBetween 按日期计算天数差，忽略时分秒
func DaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
