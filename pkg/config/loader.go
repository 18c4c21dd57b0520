package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Default 返回默认配置
func Default() *Config {
	cfg := &Config{
		Mode:     "dev",
		HTTPPort: 8080,
	}
	cfg.Database.Type = "sqlite"
	cfg.Database.DSN = "flowqueue.db"
	cfg.Queue.SlotsPerProject = 1
	cfg.Broadcast.SubscriberBuffer = 64
	cfg.Retention.Cron = "0 0 3 * * *"
	cfg.Retention.Days = 30
	return cfg
}

// Load 加载配置文件
// 文件不存在时返回默认配置而非报错
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), nil
	}

	// 在默认值基础上解析，未写明的字段保持默认
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
