package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"piktag/config"
	"piktag/core/engine"
	"piktag/core/metadata"
	"piktag/core/session"
	"piktag/core/source"
)

// State 编排器状态
type State string

const (
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StateFetching     State = "fetching"
	StateInitializing State = "initializing"
	StateProcessing   State = "processing"
	StateFinalizing   State = "finalizing"
	StateCancelling   State = "cancelling"
)

// 元数据写入重试耗尽时记录的条目错误
const errWriteFailed = "failed to write metadata"

// Orchestrator 批处理编排器
// 串起数据源、推理引擎、元数据写入器，驱动一次完整的
// 标注批处理。同一实例同一时刻最多一次运行在途。
type Orchestrator struct {
	logger   *zap.Logger
	cfg      *config.Config
	source   source.Provider
	engine   engine.Engine
	writer   *metadata.Writer
	notifier *Notifier
	store    *session.Store

	mutex       sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	state       State
	lastPercent int
}

// New 创建编排器
// store可为nil，此时不持久化运行历史。
func New(logger *zap.Logger, cfg *config.Config, src source.Provider, eng engine.Engine, writer *metadata.Writer, store *session.Store) *Orchestrator {
	return &Orchestrator{
		logger:   logger,
		cfg:      cfg,
		source:   src,
		engine:   eng,
		writer:   writer,
		notifier: NewNotifier(logger),
		store:    store,
		state:    StateIdle,
	}
}

// Notifier 返回通知分发器，供UI层注册监听
func (o *Orchestrator) Notifier() *Notifier {
	return o.notifier
}

// State 返回当前状态
func (o *Orchestrator) State() State {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.state
}

// IsRunning 报告是否有运行在途
func (o *Orchestrator) IsRunning() bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.running
}

// Start 启动一次批处理并阻塞到结束
// 已有运行在途时记告警日志后直接返回，不排队也不报错。
// 需要fire-and-forget时由调用方 go Start(...)。
func (o *Orchestrator) Start(sess *session.Session) {
	o.mutex.Lock()
	if o.running {
		o.mutex.Unlock()
		o.logger.Warn("已有批处理在运行，忽略本次启动")
		o.notifier.notifyLog("已有批处理在运行，忽略本次启动")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.running = true
	o.cancel = cancel
	o.done = make(chan struct{})
	o.state = StateStarting
	o.lastPercent = 0
	done := o.done
	o.mutex.Unlock()

	defer close(done)
	o.run(ctx, sess)
}

// Stop 取消在途运行并等待其退出，空闲时为no-op
func (o *Orchestrator) Stop() {
	o.mutex.Lock()
	if !o.running {
		o.mutex.Unlock()
		return
	}
	o.state = StateCancelling
	cancel := o.cancel
	done := o.done
	o.mutex.Unlock()

	o.logger.Info("正在取消批处理")
	cancel()
	<-done
}

func (o *Orchestrator) setState(s State) {
	o.mutex.Lock()
	o.state = s
	o.mutex.Unlock()
}

// run 执行完整的批处理流程
// 收尾块保证每条退出路径都回到空闲态，且整批完成
// 通知恰好发出一次。
func (o *Orchestrator) run(ctx context.Context, sess *session.Session) {
	sess.Begin()
	startedAt := time.Now()

	defer func() {
		o.setState(StateFinalizing)
		sess.Finish()

		total, processed, failed := sess.Counts()
		summary := o.buildSummary(total, processed, failed, time.Since(startedAt))
		o.logger.Info("批处理结束",
			zap.Int("total", total),
			zap.Int("processed", processed),
			zap.Int("failed", failed),
			zap.Duration("duration", time.Since(startedAt)))
		o.notifier.notifyLog(summary)

		o.persistRun(sess)

		o.mutex.Lock()
		o.running = false
		o.cancel = nil
		o.state = StateIdle
		o.mutex.Unlock()

		o.notifier.notifyRunCompleted()
	}()

	// 阶段1：连接数据源
	o.notifier.notifyLog("正在连接数据源…")
	if err := o.source.Connect(ctx); err != nil {
		o.logger.Error("数据源连接失败", zap.Error(err))
		o.notifier.notifyLog(fmt.Sprintf("数据源连接失败: %v", err))
		return
	}

	// 阶段2：获取待处理条目
	o.setState(StateFetching)
	o.notifier.notifyLog("正在获取待处理条目…")
	items, err := o.source.List(ctx, func(fetched int) {
		o.notifier.notifyLog(fmt.Sprintf("已发现 %d 个条目", fetched))
	})
	if err != nil {
		if ctx.Err() != nil {
			o.logger.Info("获取条目阶段被取消")
			return
		}
		o.logger.Error("获取条目失败", zap.Error(err))
		o.notifier.notifyLog(fmt.Sprintf("获取条目失败: %v", err))
		return
	}
	if len(items) == 0 {
		o.logger.Info("没有需要处理的项目")
		o.notifier.notifyLog("没有需要处理的项目")
		return
	}
	sess.SetTotal(len(items))
	o.notifier.notifyLog(fmt.Sprintf("共 %d 个条目待处理", len(items)))

	// 阶段3：初始化引擎
	o.setState(StateInitializing)
	if err := o.engine.Initialize(ctx, o.cfg.Engine, func(msg string) {
		o.notifier.notifyLog(msg)
	}); err != nil {
		if ctx.Err() != nil {
			o.logger.Info("引擎初始化阶段被取消")
			return
		}
		o.logger.Error("引擎初始化失败", zap.Error(err))
		o.notifier.notifyLog(fmt.Sprintf("引擎初始化失败: %v", err))
		return
	}

	// 阶段4：逐项处理，严格按获取顺序
	o.setState(StateProcessing)
	for i, item := range items {
		if ctx.Err() != nil {
			o.logger.Info("批处理被取消",
				zap.Int("completed", i),
				zap.Int("total", len(items)))
			return
		}

		if stop := o.dispatchItem(ctx, sess, item, i+1, len(items)); stop {
			return
		}
	}
}

// dispatchItem 处理单个条目并记录结果
// 返回true表示观察到取消，批处理应停止。收尾的recover
// 只兜底记录结果环节的编程错误，单项处理自身的panic在
// processItem内吸收，一个条目出事不拖垮整批。
func (o *Orchestrator) dispatchItem(ctx context.Context, sess *session.Session, item *source.MediaItem, current, total int) (stop bool) {
	appended := false
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("批处理循环panic",
				zap.String("item_id", item.ID),
				zap.Any("panic", r))
			if !appended {
				sess.AddResult(&session.Result{
					ItemID:   item.ID,
					FilePath: item.Path,
					Error:    fmt.Sprintf("panic: %v", r),
				})
			}
		}
	}()

	result := o.processItem(ctx, item)
	if result == nil {
		// 单项执行中观察到取消，不记入结果
		return true
	}

	sess.AddResult(result)
	appended = true
	if o.store != nil {
		if err := o.store.RecordItem(sess.ID, result); err != nil {
			o.logger.Warn("持久化条目记录失败", zap.Error(err))
		}
	}
	o.notifier.notifyItemCompleted(result)
	o.reportProgress(current, total)
	return false
}

// processItem 处理单个条目
// 收尾块保证每种结局都记录耗时；panic被吸收为失败结果。
// 观察到取消时返回nil，该条目不计入结果。
func (o *Orchestrator) processItem(ctx context.Context, item *source.MediaItem) (result *session.Result) {
	started := time.Now()
	result = &session.Result{
		ItemID:   item.ID,
		FilePath: item.Path,
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("处理条目时panic",
				zap.String("item_id", item.ID),
				zap.Any("panic", r))
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		if result != nil {
			result.Duration = time.Since(started)
		}
	}()

	localPath := item.Path
	if item.Remote {
		path, err := o.source.FetchThumbnail(ctx, item.ID, 2048, 2048)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			result.Error = fmt.Sprintf("获取图片失败: %v", err)
			return result
		}
		if path != "" {
			localPath = path
			// 下载的缩略图是临时文件，处理完即删
			defer os.Remove(localPath)
		}
	}

	if ok, reason := o.writer.Validate(localPath); !ok {
		result.Error = reason
		return result
	}

	inference, err := o.engine.Process(ctx, localPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		result.Error = fmt.Sprintf("推理失败: %v", err)
		return result
	}

	result.Category = inference.Category
	result.Keywords = engine.NormalizeKeywords(inference.Keywords)
	result.Description = inference.Description

	maxRetries := o.cfg.Processing.MaxWriteRetries
	if !o.writer.Write(ctx, localPath, result.Category, result.Keywords, result.Description, maxRetries) {
		if ctx.Err() != nil {
			return nil
		}
		result.Error = errWriteFailed
		return result
	}

	if item.Remote {
		pushed := o.source.PushUpdate(ctx, item.ID, result.Category, result.Keywords, result.Description)
		if !pushed {
			if ctx.Err() != nil {
				return nil
			}
			if o.cfg.Source.DAM.PushFailureFails {
				result.Error = "回写标注到服务器失败"
				return result
			}
			o.notifier.notifyLog(fmt.Sprintf("条目 %s 回写失败，已忽略", item.ID))
		}
	}

	result.Success = true
	return result
}

// reportProgress 发出进度通知，保证百分比单调不减
func (o *Orchestrator) reportProgress(current, total int) {
	percent := 0
	if total > 0 {
		percent = current * 100 / total
	}

	o.mutex.Lock()
	if percent < o.lastPercent {
		percent = o.lastPercent
	}
	o.lastPercent = percent
	o.mutex.Unlock()

	o.notifier.notifyProgress(Progress{
		Current: current,
		Total:   total,
		Percent: percent,
	})
}

func (o *Orchestrator) buildSummary(total, processed, failed int, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString("批处理完成: ")
	b.WriteString(fmt.Sprintf("共%d项, 成功%d项, 失败%d项, 耗时%s",
		total, processed, failed, elapsed.Round(time.Millisecond)))
	return b.String()
}

// persistRun 持久化运行记录
// 在收尾块里调用，存储层的任何意外都不能阻断收尾流程。
func (o *Orchestrator) persistRun(sess *session.Session) {
	if o.store == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("持久化运行记录panic", zap.Any("panic", r))
		}
	}()
	if err := o.store.SaveRun(sess.Snapshot(), string(StateIdle), o.source.Kind()); err != nil {
		o.logger.Warn("持久化运行记录失败", zap.Error(err))
	}
}
