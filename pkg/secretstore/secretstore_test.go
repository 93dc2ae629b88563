package secretstore

import (
	"bytes"
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	key := bytes.Repeat([]byte{0x5a}, 32)
	s, err := Open(OpenOptions{
		Path:          filepath.Join(t.TempDir(), "secrets.badger"),
		EncryptionKey: key,
	})
	if err != nil {
		t.Fatalf("打开凭据库失败: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCredentialsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.LoadCredentials(); err != nil || ok {
		t.Fatalf("空库期望 ok=false err=nil, got ok=%v err=%v", ok, err)
	}

	want := Credentials{CasinoID: "ppcdk00000004578", TableID: "236", SessionToken: "tok-1"}
	if err := s.SaveCredentials(want); err != nil {
		t.Fatalf("写入凭据失败: %v", err)
	}

	got, ok, err := s.LoadCredentials()
	if err != nil {
		t.Fatalf("读取凭据失败: %v", err)
	}
	if !ok {
		t.Fatal("期望凭据存在")
	}
	if got != want {
		t.Errorf("凭据不一致: got %+v want %+v", got, want)
	}
}

func TestSaveCredentialsRequiresIDs(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveCredentials(Credentials{TableID: "236"}); err == nil {
		t.Error("缺少 casinoId 应当报错")
	}
	if err := s.SaveCredentials(Credentials{CasinoID: "c1"}); err == nil {
		t.Error("缺少 tableId 应当报错")
	}
}

func TestGetStringMissingKey(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetString("no/such/key")
	if err != nil {
		t.Fatalf("查询不存在的键不应报错: %v", err)
	}
	if ok {
		t.Error("不存在的键期望 ok=false")
	}
}

func TestParseKey(t *testing.T) {
	raw := bytes.Repeat([]byte{0x11}, 32)

	hexKey := "0x" + strings.Repeat("11", 32)
	got, err := ParseKey(hexKey)
	if err != nil {
		t.Fatalf("hex key 解析失败: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("hex key 解析结果不一致")
	}

	b64Key := base64.StdEncoding.EncodeToString(raw)
	got, err = ParseKey(b64Key)
	if err != nil {
		t.Fatalf("base64 key 解析失败: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("base64 key 解析结果不一致")
	}

	if got, err := ParseKey(""); err != nil || got != nil {
		t.Errorf("空 key 期望 (nil, nil), got (%v, %v)", got, err)
	}
	if _, err := ParseKey("abc"); err == nil {
		t.Error("非法 key 应当报错")
	}
	if _, err := ParseKey(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("长度不足的 key 应当报错")
	}
}
