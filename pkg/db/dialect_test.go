package db

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func TestInsertIgnore(t *testing.T) {
	lite, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	got := InsertIgnore(lite, "INSERT INTO plans (id) VALUES (?)", "name")
	if want := "INSERT INTO plans (id) VALUES (?) ON CONFLICT (name) DO NOTHING"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	my, err := gorm.Open(mysql.New(mysql.Config{SkipInitializeWithVersion: true, DSN: "u:p@tcp(127.0.0.1:1)/x"}), &gorm.Config{DisableAutomaticPing: true})
	if err != nil {
		t.Fatalf("open mysql dialector: %v", err)
	}
	got = InsertIgnore(my, "INSERT INTO plans (id) VALUES (?)", "name")
	if want := "INSERT IGNORE INTO plans (id) VALUES (?)"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
