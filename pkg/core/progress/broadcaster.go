package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	defaultSubscriberBuffer = 64

	// 每个Workflow在投递边最多暂存的乱序事件数，超过则按序强制清空
	reorderWindow = 32
)

// Broadcaster 进度事件广播器（对外导出）
// 基于watermill gochannel实现按项目主题的发布/订阅；
// 每个订阅者持有独立的有界缓冲，慢订阅者的事件被丢弃而不是阻塞生产者
type Broadcaster struct {
	pubsub     *gochannel.GoChannel
	logger     watermill.LoggerAdapter
	bufferSize int
	dropped    int64 // atomic，因订阅者缓冲满而丢弃的事件数
}

// NewBroadcaster 创建广播器（对外导出）
// subscriberBuffer: 每个订阅者的缓冲大小（<=0时使用默认值）
func NewBroadcaster(subscriberBuffer int, debug bool) *Broadcaster {
	if subscriberBuffer <= 0 {
		subscriberBuffer = defaultSubscriberBuffer
	}

	logger := watermill.NewStdLogger(debug, false)
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	return &Broadcaster{
		pubsub:     pubsub,
		logger:     logger,
		bufferSize: subscriberBuffer,
	}
}

// projectTopic 按项目划分的主题名称
func projectTopic(projectID string) string {
	return "progress." + projectID
}

// Publish 发布进度事件（对外导出）
// 生产者侧不会阻塞：gochannel在无订阅者时直接丢弃消息
func (b *Broadcaster) Publish(event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化进度事件失败: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(projectTopic(event.ProjectID), msg); err != nil {
		return fmt.Errorf("发布进度事件失败: %w", err)
	}
	return nil
}

// Subscribe 订阅指定项目的进度事件流（对外导出）
// 返回的channel在ctx取消或广播器关闭时关闭；
// 同一Workflow的事件按非递减序列号交付：传输层重排时在投递边暂存乱序事件，
// 补齐前驱后按序放行，只有订阅者缓冲溢出才丢弃
func (b *Broadcaster) Subscribe(ctx context.Context, projectID string) (<-chan *Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, projectTopic(projectID))
	if err != nil {
		return nil, fmt.Errorf("订阅进度事件失败: %w", err)
	}

	out := make(chan *Event, b.bufferSize)
	go func() {
		defer close(out)
		seq := newSequencer()

		for msg := range msgs {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				log.Printf("警告: 进度事件反序列化失败: %v", err)
				msg.Ack()
				continue
			}

			for _, ready := range seq.push(&event) {
				b.deliver(out, ready)
			}
			msg.Ack()
		}

		// 订阅结束：按序清空仍在暂存的事件
		for _, ready := range seq.drain() {
			b.deliver(out, ready)
		}
	}()

	return out, nil
}

// deliver 非阻塞投递：订阅者缓冲满时丢弃，绝不阻塞生产者
func (b *Broadcaster) deliver(out chan<- *Event, event *Event) {
	select {
	case out <- event:
	default:
		atomic.AddInt64(&b.dropped, 1)
	}
}

// sequencer 投递边的按序放行器（内部结构）
// 每个Workflow的序列号自1起连续；乱序到达的事件先暂存，
// 前驱补齐后连带放行，暂存超过窗口则按序强制清空
type sequencer struct {
	lastSeq map[string]int64
	pending map[string]map[int64]*Event
}

func newSequencer() *sequencer {
	return &sequencer{
		lastSeq: make(map[string]int64),
		pending: make(map[string]map[int64]*Event),
	}
}

// push 接收一个事件，返回本次可按序放行的事件列表
func (s *sequencer) push(event *Event) []*Event {
	itemID := event.ItemID
	last := s.lastSeq[itemID]

	// 重复或已放行过的事件
	if event.Sequence <= last {
		return nil
	}

	if event.Sequence != last+1 {
		buf, exists := s.pending[itemID]
		if !exists {
			buf = make(map[int64]*Event)
			s.pending[itemID] = buf
		}
		buf[event.Sequence] = event
		if len(buf) > reorderWindow {
			return s.flush(itemID)
		}
		return nil
	}

	// 恰好是下一个：放行它，并连带放行暂存中连续的后继
	ready := []*Event{event}
	s.lastSeq[itemID] = event.Sequence
	buf := s.pending[itemID]
	for {
		next, exists := buf[s.lastSeq[itemID]+1]
		if !exists {
			break
		}
		delete(buf, next.Sequence)
		ready = append(ready, next)
		s.lastSeq[itemID] = next.Sequence
	}
	if len(buf) == 0 {
		delete(s.pending, itemID)
	}
	return ready
}

// flush 按序强制清空某个Workflow的全部暂存事件（放弃等待缺失的前驱）
func (s *sequencer) flush(itemID string) []*Event {
	buf := s.pending[itemID]
	seqs := make([]int64, 0, len(buf))
	for sq := range buf {
		seqs = append(seqs, sq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	ready := make([]*Event, 0, len(seqs))
	for _, sq := range seqs {
		ready = append(ready, buf[sq])
	}
	if len(seqs) > 0 {
		s.lastSeq[itemID] = seqs[len(seqs)-1]
	}
	delete(s.pending, itemID)
	return ready
}

// drain 按序清空所有Workflow的暂存事件（订阅结束时调用）
func (s *sequencer) drain() []*Event {
	ready := make([]*Event, 0)
	for itemID := range s.pending {
		ready = append(ready, s.flush(itemID)...)
	}
	return ready
}

// Dropped 返回因订阅者缓冲满而丢弃的事件总数（对外导出）
func (b *Broadcaster) Dropped() int64 {
	return atomic.LoadInt64(&b.dropped)
}

// Close 关闭广播器（对外导出）
// 关闭后所有订阅channel随之关闭
func (b *Broadcaster) Close() error {
	return b.pubsub.Close()
}
