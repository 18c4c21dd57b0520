// Package config 提供YAML配置的定义、加载与校验
package config

// Config 服务核心配置
type Config struct {
	Mode     string `yaml:"mode"`
	HTTPPort int    `yaml:"http_port"`
	Database struct {
		Type string `yaml:"type"` // sqlite/mysql/postgres
		DSN  string `yaml:"dsn"`  // SQLite时为文件路径
	} `yaml:"database"`
	Queue struct {
		SlotsPerProject int  `yaml:"slots_per_project"`
		SkipUnreachable bool `yaml:"skip_unreachable"`
	} `yaml:"queue"`
	Broadcast struct {
		SubscriberBuffer int  `yaml:"subscriber_buffer"`
		Debug            bool `yaml:"debug"`
	} `yaml:"broadcast"`
	Retention struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"` // 6字段表达式，支持秒级精度
		Days    int    `yaml:"days"`
	} `yaml:"retention"`
}
