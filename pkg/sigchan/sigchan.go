package sigchan

// Chan 非阻塞信号 channel：只通知"有事发生"，不携带数据。
//
// 以 buffer=1 创建时就是一个"单槽合并"信号：任务执行期间到达的 N 次 Emit
// 只会在槽里留下一个待处理信号，消费方处理完当前任务后恰好再跑一轮，
// 既不丢事件也不会无限堆积任务（重训请求、断线重连用的都是这个语义）。
type Chan struct {
	c chan struct{}
}

// New 创建信号 channel；bufferSize 通常为 1。
func New(bufferSize int) *Chan {
	return &Chan{
		c: make(chan struct{}, bufferSize),
	}
}

// Emit 发送信号；槽已满时合并进已有信号（非阻塞）。
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回内部 channel，供 select 消费。
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Drain 清空残留信号（非阻塞），关停前调用避免误触发。
func (c *Chan) Drain() {
	for {
		select {
		case <-c.c:
		default:
			return
		}
	}
}
