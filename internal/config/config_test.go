package config

import (
	"os"
	"path/filepath"
	"testing"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(prev)
	})
	return dir
}

func TestReadConfig(t *testing.T) {
	chdirTemp(t)

	fixture := `{
	"database": {
		"host": "localhost",
		"port": 27017,
		"database": "app_hub",
		"operation_timeout": "5s"
	},
	"hub": {
		"reservation_cache_ttl": "30m",
		"store_cache_ttl": "1h",
		"node_info_interval": "1m",
		"node_info_path": "/var/run/nodeinfo",
		"tracker_url": "http://localhost:8332"
	},
	"debug_mode": true,
	"app_name": "app-hub",
	"app_port": 9000
}`
	if err := os.WriteFile("config.json", []byte(fixture), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := ReadConfig()
	if err != nil {
		t.Fatal(err)
	}

	if config.Database.Host != "localhost" || config.Database.Port != 27017 {
		t.Fatalf("unexpected database config: %+v", config.Database)
	}
	if config.Hub.ReservationCacheTTL != "30m" {
		t.Fatalf("Except got 30m but got %s", config.Hub.ReservationCacheTTL)
	}
	if config.Hub.NodeInfoPath != "/var/run/nodeinfo" {
		t.Fatalf("Except got /var/run/nodeinfo but got %s", config.Hub.NodeInfoPath)
	}
	if config.Hub.TrackerURL != "http://localhost:8332" {
		t.Fatalf("Except got http://localhost:8332 but got %s", config.Hub.TrackerURL)
	}
	if !config.DebugMode || config.AppName != "app-hub" || config.AppPort != 9000 {
		t.Fatalf("unexpected config: %+v", config)
	}

	// 读取成功后GetConfig返回缓存的配置
	cached, err := GetConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cached.AppName != "app-hub" {
		t.Fatalf("Except got app-hub but got %s", cached.AppName)
	}
}

func TestReadConfigCreatesTemplate(t *testing.T) {
	dir := chdirTemp(t)

	if _, err := ReadConfig(); err == nil {
		t.Fatal("Except error when config file is missing")
	}
	// 首次运行生成模板文件
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		t.Fatalf("Except template config.json to be created, details: %v", err)
	}
}
