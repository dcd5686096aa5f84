package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// RunSeeds applies database/seeds/*.sql in name order, each file in its own transaction.
// The seeds only touch platform tables (users, classes, class_enrollments) and are written to be
// re-runnable, so a partial failure can simply be retried.
func RunSeeds(db *gorm.DB) error {
	dir := findDir("seeds")
	if dir == "" {
		return fmt.Errorf("database/seeds not found")
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	applied := 0
	for _, path := range files {
		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("seed %s: %w", filepath.Base(path), err)
		}
		stmt := strings.TrimSpace(string(body))
		if stmt == "" {
			continue
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			return tx.Exec(stmt).Error
		}); err != nil {
			return fmt.Errorf("seed %s: %w", filepath.Base(path), err)
		}
		applied++
		log.Printf("seed: %s", filepath.Base(path))
	}
	if applied == 0 {
		log.Println("seed: nothing to apply")
	}
	return nil
}
