package tools

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/egoqa/llm"
	"github.com/BaSui01/egoqa/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Capability 一个可按作业绑定的工具能力。
// Bind 在每个作业开始时调用，返回绑定了该作业上下文（video id、题目）的 ToolFunc。
type Capability struct {
	Schema    llm.ToolSchema
	Timeout   time.Duration
	RateLimit *RateLimitConfig
	Bind      func(job types.Job) ToolFunc
}

// Catalog 进程级的能力目录。参与者按名称引用能力，每个作业解析出一个独立的注册表。
// 限流器在目录级共享，跨作业生效。
type Catalog struct {
	mu       sync.RWMutex
	caps     map[string]Capability
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// NewCatalog 创建空目录。
func NewCatalog(logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		caps:     make(map[string]Capability),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// Add 注册一个能力，名称取自 Schema.Name。
func (c *Catalog) Add(capability Capability) error {
	name := capability.Schema.Name
	if name == "" {
		return fmt.Errorf("capability schema name is empty")
	}
	if capability.Bind == nil {
		return fmt.Errorf("capability %s has no binder", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.caps[name]; exists {
		return fmt.Errorf("capability %s already registered", name)
	}
	c.caps[name] = capability
	if l := newLimiter(capability.RateLimit); l != nil {
		c.limiters[name] = l
	}
	return nil
}

// Has 判断能力是否存在。
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.caps[name]
	return ok
}

// Names 按字母序返回所有能力名。
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.caps))
	for name := range c.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve 为作业构造只包含 names 的注册表。未知名称直接报错。
func (c *Catalog) Resolve(job types.Job, names []string) (*DefaultRegistry, error) {
	reg := NewDefaultRegistry(c.logger)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range names {
		capability, ok := c.caps[name]
		if !ok {
			return nil, types.NewError(types.ErrCodeToolFailed, fmt.Sprintf("unknown capability %q", name))
		}
		if reg.Has(name) {
			continue
		}
		meta := ToolMetadata{
			Schema:  capability.Schema,
			Timeout: capability.Timeout,
		}
		if err := reg.Register(name, capability.Bind(job), meta); err != nil {
			return nil, err
		}
		if l, ok := c.limiters[name]; ok {
			reg.setLimiter(name, l)
		}
	}
	return reg, nil
}
