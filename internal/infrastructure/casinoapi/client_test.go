package casinoapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchHistoryChronologicalOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ui/statisticHistory" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("tableId"); got != "236" {
			t.Errorf("tableId 参数错误: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		// 最新在前
		_, _ = w.Write([]byte(`{"tableId":"236","history":[
			{"result":"16","color":"red","gameId":"g-3"},
			{"result":"abc","gameId":"g-bad"},
			{"result":"99","gameId":"g-oob"},
			{"result":"0","color":"green","gameId":"g-2"},
			{"result":"5","color":"red","gameId":"g-1"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	outcomes, err := client.FetchHistory(context.Background(), "236", 20)
	if err != nil {
		t.Fatalf("拉取历史失败: %v", err)
	}

	want := []int{5, 0, 16} // 非法条目被跳过, 倒序成时间顺序
	if len(outcomes) != len(want) {
		t.Fatalf("历史条数错误: got %d, want %d", len(outcomes), len(want))
	}
	for i, w := range want {
		if outcomes[i].Value != w {
			t.Errorf("第 %d 局号码错误: got %d, want %d", i, outcomes[i].Value, w)
		}
	}
}

func TestFetchHistoryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second)
	if _, err := client.FetchHistory(context.Background(), "236", 10); err == nil {
		t.Fatal("服务端 5xx 应返回错误")
	}
}

func TestFetchHistoryWrongTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tableId":"999","history":[{"result":"7"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second)
	if _, err := client.FetchHistory(context.Background(), "236", 10); err == nil {
		t.Fatal("返回其他赌台数据应视为错误")
	}
}

func TestFetchHistoryEmptyTableID(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", time.Second)
	if _, err := client.FetchHistory(context.Background(), "", 10); err == nil {
		t.Fatal("空 tableID 应返回错误")
	}
}
