package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccp-p/media-transcriber/pkg/dispatch"
	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// task 单个转写任务，读写都通过 TaskStore 加锁
type task struct {
	mu   sync.Mutex
	view TaskView
	subs map[chan Event]struct{}
}

// TaskStore 保存所有任务，使用 sync.Map 并发读写
type TaskStore struct {
	tasks sync.Map // id -> *task
}

// NewTaskStore 创建任务存储
func NewTaskStore() *TaskStore {
	return &TaskStore{}
}

// Create 创建一个 PENDING 状态的任务
func (s *TaskStore) Create(input, mode string) string {
	id := uuid.New().String()
	now := time.Now()
	s.tasks.Store(id, &task{
		view: TaskView{
			ID:        id,
			Input:     input,
			Mode:      mode,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		subs: make(map[chan Event]struct{}),
	})
	utils.Info("创建任务: %s (%s)", id, input)
	return id
}

func (s *TaskStore) load(id string) (*task, bool) {
	value, ok := s.tasks.Load(id)
	if !ok {
		return nil, false
	}
	t, ok := value.(*task)
	return t, ok
}

// Get 返回任务快照
func (s *TaskStore) Get(id string) (TaskView, bool) {
	t, ok := s.load(id)
	if !ok {
		return TaskView{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view, true
}

// Delete 删除任务并关闭它的订阅
func (s *TaskStore) Delete(id string) bool {
	value, ok := s.tasks.LoadAndDelete(id)
	if !ok {
		return false
	}
	t := value.(*task)
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		close(ch)
	}
	t.subs = nil
	return true
}

// Subscribe 订阅任务事件，首条消息是当前状态
// 任务结束后通道会被关闭；返回的函数取消订阅
func (s *TaskStore) Subscribe(id string) (<-chan Event, func(), bool) {
	t, ok := s.load(id)
	if !ok {
		return nil, nil, false
	}
	ch := make(chan Event, 32)

	t.mu.Lock()
	defer t.mu.Unlock()
	view := t.view
	ch <- Event{Type: "status", Task: &view, Progress: view.Progress}
	if view.Status.Finished() || t.subs == nil {
		close(ch)
		return ch, func() {}, true
	}
	t.subs[ch] = struct{}{}

	unsubscribe := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe, true
}

// publish 向订阅者广播；调用方持有 t.mu
func (t *task) publish(ev Event) {
	for ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// 订阅者读取太慢时丢弃进度消息
		}
	}
}

// MarkRunning 任务开始执行
func (s *TaskStore) MarkRunning(id string) {
	s.update(id, func(t *task) {
		t.view.Status = StatusRunning
		view := t.view
		t.publish(Event{Type: "status", Task: &view, Progress: view.Progress})
	})
}

// Finish 记录任务结果并关闭所有订阅
func (s *TaskStore) Finish(id string, result *TaskResult, err error) {
	s.update(id, func(t *task) {
		if err != nil {
			t.view.Status = StatusFailed
			t.view.Error = err.Error()
			t.view.ErrorKind = string(models.KindOf(err))
			t.view.Stage = models.StageOf(err)
		} else {
			t.view.Status = StatusSuccess
		}
		t.view.Result = result
		t.view.UpdatedAt = time.Now()

		view := t.view
		done := Event{Type: "done", Task: &view, Progress: view.Progress}
		for ch := range t.subs {
			// 完成消息必须送达，缓冲区满时先丢掉一条旧消息
			select {
			case ch <- done:
			default:
				select {
				case <-ch:
				default:
				}
				ch <- done
			}
			close(ch)
		}
		t.subs = make(map[chan Event]struct{})
	})
	if err != nil {
		utils.Warn("任务 %s 失败: %v", id, err)
	} else {
		utils.Info("任务 %s 完成", id)
	}
}

func (s *TaskStore) update(id string, fn func(t *task)) {
	t, ok := s.load(id)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs == nil {
		return
	}
	fn(t)
	t.view.UpdatedAt = time.Now()
}

// Sink 返回把片段进度写入任务的 ProgressSink
func (s *TaskStore) Sink(id string) dispatch.ProgressSink {
	return dispatch.SinkFunc(func(ev dispatch.ProgressEvent) {
		s.update(id, func(t *task) {
			t.view.Progress.Completed = ev.Completed
			t.view.Progress.Total = ev.Total
			seg := &SegmentEvent{
				Index:  ev.SegmentIndex,
				Start:  ev.Window.Start,
				End:    ev.Window.End,
				Status: string(ev.Status),
			}
			if ev.Err != nil {
				t.view.Progress.Failed++
				seg.Error = ev.Err.Error()
			}
			t.publish(Event{Type: "progress", Segment: seg, Progress: t.view.Progress})
		})
	})
}

// Count 当前任务数量
func (s *TaskStore) Count() int {
	n := 0
	s.tasks.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
