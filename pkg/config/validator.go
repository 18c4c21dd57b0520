package config

import (
	"fmt"
)

// Validate 校验配置合法性
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("http_port必须在1-65535之间")
	}

	validDBTypes := map[string]bool{
		"sqlite":     true,
		"mysql":      true,
		"postgres":   true,
		"postgresql": true,
	}
	if !validDBTypes[cfg.Database.Type] {
		return fmt.Errorf("database.type必须是sqlite/mysql/postgres之一")
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn不能为空")
	}

	if cfg.Queue.SlotsPerProject <= 0 {
		return fmt.Errorf("queue.slots_per_project必须大于0")
	}
	if cfg.Broadcast.SubscriberBuffer <= 0 {
		return fmt.Errorf("broadcast.subscriber_buffer必须大于0")
	}

	if cfg.Retention.Enabled {
		if cfg.Retention.Days <= 0 {
			return fmt.Errorf("retention.days必须大于0")
		}
		if cfg.Retention.Cron == "" {
			return fmt.Errorf("retention.cron不能为空")
		}
	}

	return nil
}
