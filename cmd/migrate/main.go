package main

import (
	"log"
	"os"

	"random-chat-be/internal/model"
	"random-chat-be/pkg/database"

	"github.com/joho/godotenv"
)

func main() {
	// 1. Load Environment Variables
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	// 2. Connect to Database using existing GORM helpers
	db, err := database.NewGormDBFromDSN(dsn, true)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	// 3. AutoMigrate
	log.Println("Step 1: Running AutoMigrate...")
	if err := db.AutoMigrate(&model.ChatUser{}); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	// 4. Post-Migration: constraints and indexes AutoMigrate cannot express
	log.Println("Step 2: Applying constraints and indexes...")
	postSQL := []string{
		// A user is never searching while paired.
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_chat_users_searching_unpaired') THEN ALTER TABLE chat_users ADD CONSTRAINT chk_chat_users_searching_unpaired CHECK (NOT (searching AND partner_id IS NOT NULL)); END IF; END $$;`,
		// Candidate lookup scans only the waiting users, oldest first.
		`CREATE INDEX IF NOT EXISTS idx_chat_users_waiting ON chat_users (updated_at, id) WHERE searching AND partner_id IS NULL;`,
	}

	for _, sql := range postSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: Failed to execute post-migration SQL: %v. Continuing...", err)
		}
	}

	log.Println("✅ Migration completed")
}
