package main

import (
	"flag"
	"fmt"
	"log"

	"geolink.local/internal/platform/auth"
	"geolink.local/internal/platform/config"
)

// 给本地联调签一个 token：go run ./cmd/tools/issuetoken -sub <account_id> [-role admin]
// 密钥 / issuer / 有效期读和 api 相同的配置（.env 或环境变量）。
func main() {
	sub := flag.String("sub", "", "account id (jwt sub)")
	role := flag.String("role", "user", "user | admin")
	flag.Parse()

	if *sub == "" {
		log.Fatal("usage: go run ./cmd/tools/issuetoken -sub <account_id> [-role admin]")
	}

	cfg := config.Load()
	ts, err := auth.NewHS256Service(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		log.Fatal(err)
	}
	tok, err := ts.Sign(*sub, *role)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok)
}
