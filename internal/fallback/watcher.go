package fallback

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"decisiongate/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher 持有规则文件编译出的 Engine，文件变化时原子替换。
// 重载失败时保留上一版 Engine。
type Watcher struct {
	path   string
	v      *viper.Viper
	engine atomic.Pointer[Engine]

	mu        sync.Mutex
	listeners []func(*Engine)
	reloads   uint64
}

// NewWatcher loads path once and, when watch is true, follows later edits.
func NewWatcher(path string, watch bool) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("fallback watcher requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read fallback rules failed: %w", err)
	}
	w := &Watcher{path: path, v: v}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	if watch {
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := w.Reload(); err != nil {
				logger.Errorf("fallback rules reload failed (%s): %v", evt.Name, err)
			}
		})
		v.WatchConfig()
	}
	return w, nil
}

// Reload recompiles the rule file. On error the current engine stays active.
func (w *Watcher) Reload() error {
	eng, err := LoadRuleFile(w.path)
	if err != nil {
		return err
	}
	w.engine.Store(eng)
	w.mu.Lock()
	w.reloads++
	listeners := append([]func(*Engine){}, w.listeners...)
	w.mu.Unlock()
	logger.Infof("fallback rules loaded: profile=%s rules=%d", eng.ProfileName(), len(eng.rules))
	for _, fn := range listeners {
		fn(eng)
	}
	return nil
}

// OnReload registers fn to run after each successful reload.
func (w *Watcher) OnReload(fn func(*Engine)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) Engine() *Engine { return w.engine.Load() }

func (w *Watcher) Reloads() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Decide delegates to whichever engine is current at call time.
func (w *Watcher) Decide(m MarketCondition) Decision {
	return w.engine.Load().Decide(m)
}
