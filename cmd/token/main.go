// Command token 用配置中的 auth.secret 签发服务令牌，供调用方在启用认证时使用。
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"rag-chat-go/internal/config"
	"rag-chat-go/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	subject := flag.String("subject", "", "caller identity written to the sub claim")
	scope := flag.String("scope", "", "optional scope claim")
	ttlHours := flag.Int("ttl-hours", 0, "token lifetime in hours, defaults to auth.token_ttl_hours")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "加载 .env 失败: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Auth.Secret == "" {
		fmt.Fprintln(os.Stderr, "auth.secret 未配置")
		os.Exit(1)
	}

	ttl := cfg.Auth.TokenTTLHours
	if *ttlHours > 0 {
		ttl = *ttlHours
	}
	sub := *subject
	if sub == "" {
		sub = cfg.Auth.AllowedSubject
	}

	signed, err := token.NewJWTManager(cfg.Auth.Secret, ttl).GenerateServiceToken(sub, *scope)
	if err != nil {
		fmt.Fprintf(os.Stderr, "签发失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(signed)
}
