package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個服務的配置
type Config struct {
	Server struct {
		// Addr 大廳監聽位址（原始協議預設埠 17000）
		Addr string `yaml:"addr"`
		// AdminAddr 監控/指標端點位址，留空則不啟動
		AdminAddr string `yaml:"admin_addr"`
		// LoginTimeout 未認證連線的收包逾時（登入前故意收短）
		LoginTimeout time.Duration `yaml:"login_timeout"`
		// IdleTimeout 已認證連線的收包逾時
		IdleTimeout time.Duration `yaml:"idle_timeout"`
		// WriteTimeout 單一封包的寫出逾時
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // text, json
	} `yaml:"log"`
}

// DefaultConfig 回傳預設配置
func DefaultConfig() *Config {
	config := &Config{}
	config.Server.Addr = ":17000"
	config.Server.AdminAddr = ":8080"
	config.Server.LoginTimeout = 10 * time.Second
	config.Server.IdleTimeout = 30 * time.Minute
	config.Server.WriteTimeout = 15 * time.Second
	config.Log.Level = "info"
	config.Log.Format = "text"
	return config
}

// LoadConfig 讀取 YAML 配置檔，未指定的鍵保留預設值
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置檔失敗: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 檢查配置的基本合法性
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("監聽位址不能為空")
	}
	if c.Server.LoginTimeout <= 0 || c.Server.IdleTimeout <= 0 {
		return fmt.Errorf("逾時必須為正值")
	}
	if c.Server.LoginTimeout > c.Server.IdleTimeout {
		return fmt.Errorf("登入逾時不應長於閒置逾時")
	}
	return nil
}
