package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gatehouse-sh/gatehouse/backend/internal/config"
	"github.com/gatehouse-sh/gatehouse/backend/internal/database"
	"github.com/gatehouse-sh/gatehouse/backend/internal/logger"
	"github.com/gatehouse-sh/gatehouse/backend/internal/server"
	"github.com/gatehouse-sh/gatehouse/backend/internal/services"
	"github.com/gatehouse-sh/gatehouse/backend/internal/version"
)

func main() {
	// Setup logging with rotation
	logDir := "/app/data/logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		// Fallback to local directory if /app/data fails (e.g. local dev)
		logDir = "data/logs"
		_ = os.MkdirAll(logDir, 0755)
	}

	logFile := filepath.Join(logDir, "gatehouse.log")
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	// Log to both stdout and file
	mw := io.MultiWriter(os.Stdout, rotator)
	log.SetOutput(mw)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Init(!cfg.IsProduction(), mw)

	// Handle CLI commands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "verify-audit":
			runVerifyAudit(cfg)
			return
		case "recovery-token":
			runRecoveryToken()
			return
		}
	}

	if cfg.JWTSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Fatalf("generate jwt secret: %v", err)
		}
		cfg.JWTSecret = hex.EncodeToString(secret)
		log.Printf("WARNING: GATEHOUSE_JWT_SECRET not set; sessions will not survive a restart")
	}

	log.Printf("starting %s backend on version %s", version.Name, version.Full())

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	srv, err := server.New(db, cfg)
	if err != nil {
		log.Fatalf("assemble server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("starting %s backend on :%s", version.Name, cfg.HTTPPort)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// runVerifyAudit walks the ledger offline and prints the verification result.
func runVerifyAudit(cfg config.Config) {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	limit := 1_000_000
	result, err := services.NewAuditService(db).Verify(limit)
	if err != nil {
		log.Fatalf("verify audit ledger: %v", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if !result.Valid {
		os.Exit(1)
	}
}

// runRecoveryToken generates an emergency recovery token, printing the
// plaintext once and the bcrypt hash to install as
// GATEHOUSE_RECOVERY_TOKEN_HASH.
func runRecoveryToken() {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		log.Fatalf("generate token: %v", err)
	}
	token := hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hash token: %v", err)
	}

	fmt.Printf("recovery token (store offline, shown once): %s\n", token)
	fmt.Printf("GATEHOUSE_RECOVERY_TOKEN_HASH=%s\n", string(hash))
}
