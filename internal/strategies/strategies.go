package strategies

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidStrategyParameter 策略参数非法（未知策略名、候选数量越界、概率维度错误）
var ErrInvalidStrategyParameter = errors.New("invalid strategy parameter")

// Strategy 决定每轮下注覆盖多少个号码。
// 排序逻辑统一在 Rank 中，策略本身只声明候选数量。
type Strategy interface {
	ID() string
	CandidateCount() int
}

// Configurable 支持启动时按配置调整候选数量的策略
type Configurable interface {
	SetCandidateCount(n int) error
}

var (
	loadedStrategies   = make(map[string]Strategy)
	loadedStrategiesMu sync.RWMutex
)

// Register 注册策略类型，应在各策略包的 init() 中调用
func Register(s Strategy) {
	loadedStrategiesMu.Lock()
	defer loadedStrategiesMu.Unlock()

	if _, exists := loadedStrategies[s.ID()]; exists {
		panic(fmt.Errorf("strategy %s already registered", s.ID()))
	}
	loadedStrategies[s.ID()] = s
}

// Get 按名称查找已注册的策略
func Get(id string) (Strategy, error) {
	loadedStrategiesMu.RLock()
	defer loadedStrategiesMu.RUnlock()

	s, exists := loadedStrategies[id]
	if !exists {
		return nil, fmt.Errorf("%w: 未知策略 %q, 可用: %s",
			ErrInvalidStrategyParameter, id, strings.Join(listLocked(), ", "))
	}
	return s, nil
}

// List 返回所有已注册策略的名称（字典序）
func List() []string {
	loadedStrategiesMu.RLock()
	defer loadedStrategiesMu.RUnlock()
	return listLocked()
}

func listLocked() []string {
	ids := make([]string, 0, len(loadedStrategies))
	for id := range loadedStrategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
