package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/goroulette/pkg/secretstore"
)

// 把 live 模式的赌场凭据导入加密密钥库。
// 凭据从环境变量（ROULETTE_CASINO_ID / ROULETTE_TABLE_ID / ROULETTE_SESSION_TOKEN）
// 读取，-in 指定 .env 文件时先加载它。机器人在配置里 casino_id 为空时会回退读库。

func main() {
	var (
		inPath    = flag.String("in", "", ".env 文件路径（可选，先于环境变量加载）")
		dbPath    = flag.String("store", getenv("ROULETTE_SECRET_STORE", "data/secrets"), "密钥库路径")
		secretKey = flag.String("secret-key", getenv("ROULETTE_SECRET_KEY", ""), "加密密钥 (32 字节 base64/hex)")
		show      = flag.Bool("show", false, "只显示当前存储的凭据后退出")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("必须提供加密密钥: 设置 ROULETTE_SECRET_KEY 或传 -secret-key"))
	}

	if *show {
		showCredentials(*dbPath, keyBytes)
		return
	}

	if *inPath != "" {
		if err := godotenv.Overload(*inPath); err != nil {
			fatal(fmt.Errorf("加载 %s 失败: %w", *inPath, err))
		}
	}

	creds := secretstore.Credentials{
		CasinoID:     strings.TrimSpace(os.Getenv("ROULETTE_CASINO_ID")),
		TableID:      strings.TrimSpace(os.Getenv("ROULETTE_TABLE_ID")),
		SessionToken: strings.TrimSpace(os.Getenv("ROULETTE_SESSION_TOKEN")),
	}
	if creds.CasinoID == "" || creds.TableID == "" {
		fatal(fmt.Errorf("缺少 ROULETTE_CASINO_ID 或 ROULETTE_TABLE_ID"))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      false,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	if err := ss.SaveCredentials(creds); err != nil {
		fatal(err)
	}

	fmt.Fprintf(os.Stderr, "已导入赌场凭据到 %s：casino=%s table=%s token=%s\n",
		*dbPath, creds.CasinoID, creds.TableID, maskToken(creds.SessionToken))
}

func showCredentials(dbPath string, key []byte) {
	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          dbPath,
		EncryptionKey: key,
		ReadOnly:      true,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	creds, ok, err := ss.LoadCredentials()
	if err != nil {
		fatal(err)
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "密钥库 %s 中没有凭据\n", dbPath)
		os.Exit(1)
	}
	fmt.Printf("casino=%s table=%s token=%s\n",
		creds.CasinoID, creds.TableID, maskToken(creds.SessionToken))
}

func maskToken(token string) string {
	if token == "" {
		return "(空)"
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
