package sigchan

import "testing"

func TestEmitCoalesce(t *testing.T) {
	ch := New(1)
	for i := 0; i < 10; i++ {
		ch.Emit() // 连续 Emit 只保留一个信号
	}

	select {
	case <-ch.C():
	default:
		t.Fatal("应当有一个待处理信号")
	}

	select {
	case <-ch.C():
		t.Fatal("信号应当被合并, 不应有第二个")
	default:
	}
}

func TestDrain(t *testing.T) {
	ch := New(1)
	ch.Emit()
	ch.Drain()

	select {
	case <-ch.C():
		t.Fatal("Drain 之后不应有残留信号")
	default:
	}
}
