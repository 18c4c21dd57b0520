package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")
	configContent := `
mode: "prod"
http_port: 9090
database:
  type: "sqlite"
  dsn: "./data/flowqueue.db"
queue:
  slots_per_project: 3
  skip_unreachable: true
broadcast:
  subscriber_buffer: 128
retention:
  enabled: true
  cron: "0 30 2 * * *"
  days: 14
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("创建测试配置文件失败: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Mode != "prod" {
		t.Errorf("期望mode为prod，实际为%s", cfg.Mode)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("期望http_port为9090，实际为%d", cfg.HTTPPort)
	}
	if cfg.Database.DSN != "./data/flowqueue.db" {
		t.Errorf("期望database.dsn为./data/flowqueue.db，实际为%s", cfg.Database.DSN)
	}
	if cfg.Queue.SlotsPerProject != 3 {
		t.Errorf("期望slots_per_project为3，实际为%d", cfg.Queue.SlotsPerProject)
	}
	if !cfg.Queue.SkipUnreachable {
		t.Error("期望skip_unreachable为true")
	}
	if cfg.Retention.Days != 14 {
		t.Errorf("期望retention.days为14，实际为%d", cfg.Retention.Days)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/no/such/file.yaml")
	if err != nil {
		t.Fatalf("文件不存在应返回默认配置，实际错误: %v", err)
	}

	if cfg.HTTPPort != 8080 {
		t.Errorf("默认http_port应为8080，实际为%d", cfg.HTTPPort)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("默认database.type应为sqlite，实际为%s", cfg.Database.Type)
	}
	if cfg.Queue.SlotsPerProject != 1 {
		t.Errorf("默认slots_per_project应为1，实际为%d", cfg.Queue.SlotsPerProject)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.yaml")
	if err := os.WriteFile(configPath, []byte("http_port: 7070\n"), 0644); err != nil {
		t.Fatalf("创建测试配置文件失败: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.HTTPPort != 7070 {
		t.Errorf("期望http_port为7070，实际为%d", cfg.HTTPPort)
	}
	// 未声明的字段保持默认值
	if cfg.Broadcast.SubscriberBuffer != 64 {
		t.Errorf("未声明字段应保持默认值64，实际为%d", cfg.Broadcast.SubscriberBuffer)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte("{{not yaml"), 0644); err != nil {
		t.Fatalf("创建测试配置文件失败: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("非法YAML应返回错误，但未返回")
	}
}
