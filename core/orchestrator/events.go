package orchestrator

import (
	"sync"

	"go.uber.org/zap"

	"piktag/core/session"
)

// Progress 处理进度
type Progress struct {
	Current int
	Total   int
	Percent int
}

// Notifier 通知分发器
// 四类通知：日志、进度、单项完成、整批完成。派发是
// fire-and-forget的，监听器panic被吸收，不影响处理流程。
type Notifier struct {
	logger        *zap.Logger
	mutex         sync.RWMutex
	logListeners  []func(string)
	progListeners []func(Progress)
	itemListeners []func(*session.Result)
	doneListeners []func()
}

// NewNotifier 创建通知分发器
func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// OnLog 注册日志通知监听器
func (n *Notifier) OnLog(fn func(string)) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.logListeners = append(n.logListeners, fn)
}

// OnProgress 注册进度通知监听器
func (n *Notifier) OnProgress(fn func(Progress)) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.progListeners = append(n.progListeners, fn)
}

// OnItemCompleted 注册单项完成监听器
func (n *Notifier) OnItemCompleted(fn func(*session.Result)) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.itemListeners = append(n.itemListeners, fn)
}

// OnRunCompleted 注册整批完成监听器
func (n *Notifier) OnRunCompleted(fn func()) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.doneListeners = append(n.doneListeners, fn)
}

func (n *Notifier) notifyLog(msg string) {
	n.mutex.RLock()
	listeners := make([]func(string), len(n.logListeners))
	copy(listeners, n.logListeners)
	n.mutex.RUnlock()

	for _, fn := range listeners {
		n.safeCall(func() { fn(msg) })
	}
}

func (n *Notifier) notifyProgress(p Progress) {
	n.mutex.RLock()
	listeners := make([]func(Progress), len(n.progListeners))
	copy(listeners, n.progListeners)
	n.mutex.RUnlock()

	for _, fn := range listeners {
		n.safeCall(func() { fn(p) })
	}
}

func (n *Notifier) notifyItemCompleted(r *session.Result) {
	n.mutex.RLock()
	listeners := make([]func(*session.Result), len(n.itemListeners))
	copy(listeners, n.itemListeners)
	n.mutex.RUnlock()

	for _, fn := range listeners {
		n.safeCall(func() { fn(r) })
	}
}

func (n *Notifier) notifyRunCompleted() {
	n.mutex.RLock()
	listeners := make([]func(), len(n.doneListeners))
	copy(listeners, n.doneListeners)
	n.mutex.RUnlock()

	for _, fn := range listeners {
		n.safeCall(fn)
	}
}

func (n *Notifier) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("通知监听器panic", zap.Any("panic", r))
		}
	}()
	fn()
}
