package history

import (
	"errors"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"github.com/betbot/goroulette/internal/domain"
)

func outcome(v int) domain.SpinOutcome {
	return domain.SpinOutcome{Value: v, Time: time.Now()}
}

func TestAppendAndLen(t *testing.T) {
	b := NewSequenceBuffer(5)
	if b.Len() != 0 || b.Capacity() != 5 {
		t.Fatalf("初始状态错误: len=%d cap=%d", b.Len(), b.Capacity())
	}
	for i := 0; i < 3; i++ {
		b.Append(outcome(i))
	}
	if b.Len() != 3 {
		t.Errorf("Len() = %d, want 3", b.Len())
	}
	if b.Total() != 3 {
		t.Errorf("Total() = %d, want 3", b.Total())
	}
}

func TestFIFOEviction(t *testing.T) {
	b := NewSequenceBuffer(4)
	for i := 0; i < 10; i++ {
		b.Append(outcome(i % domain.WheelSize))
	}
	if b.Len() != 4 {
		t.Fatalf("超容后 Len() = %d, want 4", b.Len())
	}
	got := b.SnapshotAll()
	want := []int{6, 7, 8, 9}
	for i, o := range got {
		if o.Value != want[i] {
			t.Errorf("淘汰顺序错误: got[%d]=%d, want %d", i, o.Value, want[i])
		}
	}
	if b.Total() != 10 {
		t.Errorf("Total() = %d, want 10", b.Total())
	}
}

func TestSnapshotWindow(t *testing.T) {
	b := NewSequenceBuffer(10)
	for i := 0; i < 7; i++ {
		b.Append(outcome(i))
	}

	got, err := b.Snapshot(3)
	if err != nil {
		t.Fatalf("Snapshot(3) 失败: %v", err)
	}
	want := []int{4, 5, 6}
	for i, o := range got {
		if o.Value != want[i] {
			t.Errorf("窗口内容错误: got[%d]=%d, want %d", i, o.Value, want[i])
		}
	}

	// 数据不足
	if _, err := b.Snapshot(8); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("期望 ErrInsufficientHistory, got %v", err)
	}
	// 非法窗口
	if _, err := b.Snapshot(0); err == nil {
		t.Error("窗口长度 0 应当报错")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	b := NewSequenceBuffer(5)
	for i := 0; i < 5; i++ {
		b.Append(outcome(i))
	}
	snap, _ := b.Snapshot(5)
	b.Append(outcome(36))
	if snap[0].Value != 0 {
		t.Error("快照应当是时点副本，不随后续写入变化")
	}
}

// **Property: 滚动窗口性质**
// 对任意写入序列，缓冲区长度永不超过容量，且内容恰等于最近 capacity 条写入（FIFO）。
func TestPropertyRollingWindow(t *testing.T) {
	property := func(values []uint8, capSeed uint8) bool {
		capacity := 1 + int(capSeed)%32
		b := NewSequenceBuffer(capacity)

		appended := make([]int, 0, len(values))
		for _, v := range values {
			n := int(v) % domain.WheelSize
			b.Append(outcome(n))
			appended = append(appended, n)

			if b.Len() > capacity {
				t.Logf("长度越界: len=%d cap=%d", b.Len(), capacity)
				return false
			}
		}

		expect := appended
		if len(expect) > capacity {
			expect = expect[len(expect)-capacity:]
		}
		got := b.SnapshotAll()
		if len(got) != len(expect) {
			t.Logf("内容长度不一致: got=%d want=%d", len(got), len(expect))
			return false
		}
		for i := range expect {
			if got[i].Value != expect[i] {
				t.Logf("内容不一致: got[%d]=%d want=%d", i, got[i].Value, expect[i])
				return false
			}
		}
		return true
	}

	config := &quick.Config{MaxCount: 100}
	if err := quick.Check(property, config); err != nil {
		t.Errorf("滚动窗口属性测试失败: %v", err)
	}
}

// 单写多读下快照必须是一致的时点副本：写入严格递增序列，
// 任何快照都应是连续递增的一段，不存在"撕裂"的淘汰。
func TestConcurrentSnapshotConsistency(t *testing.T) {
	b := NewSequenceBuffer(64)
	const total = 5000

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			b.Append(domain.SpinOutcome{Value: i % domain.WheelSize, Time: time.Unix(int64(i), 0)})
		}
	}()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap, err := b.Snapshot(10)
				if errors.Is(err, ErrInsufficientHistory) {
					continue
				}
				if err != nil {
					t.Errorf("快照失败: %v", err)
					return
				}
				for i := 1; i < len(snap); i++ {
					prev := snap[i-1].Time.Unix()
					cur := snap[i].Time.Unix()
					if cur != prev+1 {
						t.Errorf("快照出现撕裂: %d 之后是 %d", prev, cur)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}
