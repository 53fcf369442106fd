package syncgroup

import (
	"sync"
	"time"
)

// Group 管理后台任务的生命周期，退出时等待全部任务结束
type Group struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	running map[string]int
}

// New 创建任务组
func New() *Group {
	return &Group{running: make(map[string]int)}
}

// Go 以名称启动一个后台任务
func (g *Group) Go(name string, fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.running[name]++
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer func() {
			g.mu.Lock()
			if g.running[name]--; g.running[name] <= 0 {
				delete(g.running, name)
			}
			g.mu.Unlock()
			g.wg.Done()
		}()
		fn()
	}()
}

// Running 仍在运行的任务名称及数量
func (g *Group) Running() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.running))
	for k, v := range g.running {
		out[k] = v
	}
	return out
}

// Wait 等待所有任务结束
func (g *Group) Wait() {
	g.wg.Wait()
}

// WaitTimeout 最多等待 d；超时返回 false
func (g *Group) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
