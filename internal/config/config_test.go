package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir: "/home/user/.local/share/depot",
		LogDir:  "/home/user/.local/share/depot/log",
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: "/home/user/.local/share/depot/data",
		},
		Blob: BlobConfig{
			Type:     "s3",
			S3Bucket: "depot-blobs",
			S3Prefix: "prod/",
			S3Region: "eu-west-1",
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
	if got.Database.DataDir != original.Database.DataDir {
		t.Errorf("Database.DataDir = %q, want %q", got.Database.DataDir, original.Database.DataDir)
	}
	if got.Blob.Type != "s3" {
		t.Errorf("Blob.Type = %q, want %q", got.Blob.Type, "s3")
	}
	if got.Blob.S3Bucket != "depot-blobs" {
		t.Errorf("Blob.S3Bucket = %q, want %q", got.Blob.S3Bucket, "depot-blobs")
	}
	if got.Blob.S3Region != "eu-west-1" {
		t.Errorf("Blob.S3Region = %q, want %q", got.Blob.S3Region, "eu-west-1")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/depot")

	if cfg.BaseDir != "/data/depot" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/depot")
	}
	if cfg.LogDir != "/data/depot/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/depot/log")
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", cfg.Database.Type, "sqlite")
	}
	if cfg.Database.DataDir != "/data/depot/data" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/depot/data")
	}
	if cfg.Blob.Type != "filesystem" {
		t.Errorf("Blob.Type = %q, want %q", cfg.Blob.Type, "filesystem")
	}
	if cfg.Blob.FSRoot != "/data/depot/blobs" {
		t.Errorf("Blob.FSRoot = %q, want %q", cfg.Blob.FSRoot, "/data/depot/blobs")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "depot.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.BaseDir != dir {
			t.Errorf("BaseDir = %q, want %q", got.BaseDir, dir)
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "depot.toml")
		if err := os.WriteFile(path, []byte("base_dir = \"/existing\"\n"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		if err := Init(path, NewConfig(dir)); err == nil {
			t.Error("Init() over existing file succeeded, want error")
		}
	})

	t.Run("creates parent directories", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nested", "deeper", "depot.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("config file missing: %v", err)
		}
	})
}

func TestReadFromFile_missing(t *testing.T) {
	if _, err := ReadFromFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("ReadFromFile() on missing file succeeded, want error")
	}
}
