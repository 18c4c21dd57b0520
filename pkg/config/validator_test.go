package config

import (
	"testing"
)

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("默认配置应通过校验，实际错误: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil配置", nil},
		{"端口越界", func(c *Config) { c.HTTPPort = 70000 }},
		{"非法数据库类型", func(c *Config) { c.Database.Type = "oracle" }},
		{"空DSN", func(c *Config) { c.Database.DSN = "" }},
		{"槽位为0", func(c *Config) { c.Queue.SlotsPerProject = 0 }},
		{"订阅缓冲为0", func(c *Config) { c.Broadcast.SubscriberBuffer = 0 }},
		{"保留天数为0", func(c *Config) {
			c.Retention.Enabled = true
			c.Retention.Days = 0
		}},
		{"保留表达式为空", func(c *Config) {
			c.Retention.Enabled = true
			c.Retention.Cron = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.mutate == nil {
				if err := Validate(nil); err == nil {
					t.Fatal("nil配置应返回错误")
				}
				return
			}
			cfg := Default()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("%s 应校验失败，但通过了", tc.name)
			}
		})
	}
}
